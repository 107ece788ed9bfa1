// Package ports holds the fixed port layout used by supervised devnet nodes.
//
// Every node owns a contiguous range starting at its base port. Each service
// listens on base port plus a fixed offset. The offsets are part of the wire
// contract with the supervisor: changing one breaks every running devnet.
package ports

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/docker/go-connections/nat"
)

// Service identifies a network service exposed by a node.
type Service int

const (
	P2P Service = iota
	RPC
	GRPC
	API
	Pprof
	GRPCTxOnly
	GRPCWeb
	EVMRPC
	EVMWS
)

// NodeSpan is the distance between the base ports of consecutive validators
// in one devnet.
const NodeSpan = 10

// MaxPort is the highest valid TCP port.
const MaxPort = 65535

var offsets = map[Service]int{
	P2P:        0,
	RPC:        1,
	GRPC:       2,
	API:        3,
	Pprof:      4,
	GRPCTxOnly: 5,
	GRPCWeb:    6,
	EVMRPC:     7,
	EVMWS:      8,
}

var names = map[Service]string{
	P2P:        "p2p",
	RPC:        "rpc",
	GRPC:       "grpc",
	API:        "api",
	Pprof:      "pprof",
	GRPCTxOnly: "grpc-tx-only",
	GRPCWeb:    "grpc-web",
	EVMRPC:     "evm-rpc",
	EVMWS:      "evm-ws",
}

// String returns the service name.
func (s Service) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Offset returns the offset of the service from a node's base port.
func (s Service) Offset() (int, error) {
	off, ok := offsets[s]
	if !ok {
		return 0, fmt.Errorf("unknown service %d", int(s))
	}
	return off, nil
}

// ParseService maps a service name, as returned by String, back to a Service.
func ParseService(name string) (Service, error) {
	for s, n := range names {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown service %q", name)
}

// Services returns all known services ordered by offset.
func Services() []Service {
	out := make([]Service, 0, len(offsets))
	for s := range offsets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return offsets[out[i]] < offsets[out[j]] })
	return out
}

// Offsets returns a copy of the offset table.
func Offsets() map[Service]int {
	out := make(map[Service]int, len(offsets))
	for s, off := range offsets {
		out[s] = off
	}
	return out
}

// Span returns the number of ports reserved per node.
func Span() int {
	highest := 0
	for _, off := range offsets {
		if off > highest {
			highest = off
		}
	}
	return highest + 1
}

// Port returns the port of svc for a node with the given base port.
func Port(basePort int, svc Service) (int, error) {
	off, err := svc.Offset()
	if err != nil {
		return 0, err
	}
	return basePort + off, nil
}

// MustPort is like Port but panics on an unknown service.
func MustPort(basePort int, svc Service) int {
	p, err := Port(basePort, svc)
	if err != nil {
		panic(err)
	}
	return p
}

// NatPort returns the port of svc as a tcp nat.Port, e.g. "26801/tcp".
func NatPort(basePort int, svc Service) (nat.Port, error) {
	p, err := Port(basePort, svc)
	if err != nil {
		return "", err
	}
	return nat.NewPort("tcp", strconv.Itoa(p))
}

// PortSet returns every service port of a node as a nat.PortSet.
func PortSet(basePort int) (nat.PortSet, error) {
	set := make(nat.PortSet, len(offsets))
	for _, svc := range Services() {
		p, err := NatPort(basePort, svc)
		if err != nil {
			return nil, err
		}
		set[p] = struct{}{}
	}
	return set, nil
}

// Validate reports whether a devnet of numNodes validators starting at basePort
// fits in the valid port range.
func Validate(basePort, numNodes int) error {
	if basePort <= 0 {
		return fmt.Errorf("base port must be positive, got %d", basePort)
	}
	if numNodes < 1 {
		numNodes = 1
	}
	last := basePort + (numNodes-1)*NodeSpan + Span() - 1
	if last > MaxPort {
		return fmt.Errorf("port range %d-%d exceeds %d", basePort, last, MaxPort)
	}
	return nil
}

// Overlaps reports whether two devnets, each described by a base port and a
// node count, would share any port.
func Overlaps(baseA, nodesA, baseB, nodesB int) bool {
	endA := baseA + max(nodesA-1, 0)*NodeSpan + Span()
	endB := baseB + max(nodesB-1, 0)*NodeSpan + Span()
	return baseA < endB && baseB < endA
}
