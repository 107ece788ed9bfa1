package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/crypto-com/devnet-harness/framework/devnet/ports"
	"golang.org/x/sync/errgroup"
)

// StartGroup starts one session per config concurrently. The configs must
// use disjoint port ranges and work directories. If any session fails to start
// the others are torn down and the first error is returned.
func StartGroup(ctx context.Context, cfgs ...Config) ([]*Session, error) {
	sessions := make([]*Session, len(cfgs))
	for i, cfg := range cfgs {
		s, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("session %d: %w", i, err)
		}
		sessions[i] = s
	}
	if err := checkDisjoint(sessions); err != nil {
		return nil, err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		eg.Go(func() error {
			return s.Start(egCtx)
		})
	}
	if err := eg.Wait(); err != nil {
		_ = CloseGroup(context.WithoutCancel(ctx), sessions...)
		return nil, err
	}
	return sessions, nil
}

// CloseGroup tears sessions down concurrently and joins their errors.
func CloseGroup(ctx context.Context, sessions ...*Session) error {
	errs := make([]error, len(sessions))
	var eg errgroup.Group
	for i, s := range sessions {
		eg.Go(func() error {
			errs[i] = s.Close(ctx)
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

// checkDisjoint rejects sessions whose validators would bind the same ports
// or share a work directory.
func checkDisjoint(sessions []*Session) error {
	for i := range sessions {
		for j := i + 1; j < len(sessions); j++ {
			a, b := sessions[i], sessions[j]
			if ports.Overlaps(a.cfg.BasePort, a.nodes, b.cfg.BasePort, b.nodes) {
				return fmt.Errorf("sessions %d and %d have overlapping ports: %d validators at %d, %d validators at %d",
					i, j, a.nodes, a.cfg.BasePort, b.nodes, b.cfg.BasePort)
			}
			if a.cfg.WorkDir != "" && a.cfg.WorkDir == b.cfg.WorkDir {
				return fmt.Errorf("sessions %d and %d share work dir %s", i, j, a.cfg.WorkDir)
			}
		}
	}
	return nil
}
