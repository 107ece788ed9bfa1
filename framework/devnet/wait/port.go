// Package wait polls network endpoints until they become reachable.
package wait

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds how long ForPort waits for a port to open.
	DefaultTimeout = 40 * time.Second
	// DefaultInterval is the pause between two connection attempts.
	DefaultInterval = 100 * time.Millisecond
	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = time.Second
)

// ErrReadinessTimeout is matched by errors returned when a port never opened.
var ErrReadinessTimeout = errors.New("readiness timeout")

// ReadinessTimeoutError reports a port that did not accept connections in time.
type ReadinessTimeoutError struct {
	Host    string
	Port    int
	Timeout time.Duration
	// LastErr is the error of the final connection attempt, if any.
	LastErr error
}

func (e *ReadinessTimeoutError) Error() string {
	msg := fmt.Sprintf("waited %s for port %d on host %s to start accepting connections", e.Timeout, e.Port, e.Host)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *ReadinessTimeoutError) Is(target error) bool { return target == ErrReadinessTimeout }

func (e *ReadinessTimeoutError) Unwrap() error { return e.LastErr }

type options struct {
	timeout     time.Duration
	interval    time.Duration
	dialTimeout time.Duration
	logger      *zap.Logger
}

// Option configures ForPort.
type Option func(*options)

// WithTimeout sets the overall deadline measured from the first attempt.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithInterval sets the pause between failed attempts.
func WithInterval(d time.Duration) Option { return func(o *options) { o.interval = d } }

// WithDialTimeout sets the upper bound of a single connection attempt.
func WithDialTimeout(d time.Duration) Option { return func(o *options) { o.dialTimeout = d } }

// WithLogger logs failed attempts at debug level.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// ForPort blocks until a TCP connection to host:port succeeds or the timeout
// elapses. The probe connection is closed immediately. A successful return is a
// point-in-time observation; the port is not watched afterwards.
//
// Cancelling ctx aborts the wait and returns the context error. Running out of
// time returns a *ReadinessTimeoutError.
func ForPort(ctx context.Context, host string, port int, opts ...Option) error {
	o := options{
		timeout:     DefaultTimeout,
		interval:    DefaultInterval,
		dialTimeout: DefaultDialTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	deadlineCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var lastErr error
	err := retry.Do(
		func() error {
			// the attempt timeout never runs past the overall deadline.
			dialCtx, dialCancel := context.WithTimeout(deadlineCtx, o.dialTimeout)
			defer dialCancel()

			var d net.Dialer
			conn, err := d.DialContext(dialCtx, "tcp", addr)
			if err != nil {
				lastErr = err
				return err
			}
			_ = conn.Close()
			return nil
		},
		retry.Context(deadlineCtx),
		retry.Attempts(0),
		retry.Delay(o.interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			o.logger.Debug("port not ready yet", zap.String("addr", addr), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("waiting for %s: %w", addr, ctx.Err())
	}
	return &ReadinessTimeoutError{Host: host, Port: port, Timeout: o.timeout, LastErr: lastErr}
}

// IsOpen makes a single connection attempt to host:port.
func IsOpen(host string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
