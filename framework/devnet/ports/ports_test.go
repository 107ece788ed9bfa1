package ports

import (
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
)

func TestPortsAreInjectivePerBasePort(t *testing.T) {
	for _, base := range []int{1, 26650, 26800, 26950, 60000} {
		seen := make(map[int]Service)
		for _, svc := range Services() {
			p, err := Port(base, svc)
			require.NoError(t, err)
			if prev, ok := seen[p]; ok {
				t.Fatalf("services %s and %s share port %d for base %d", prev, svc, p, base)
			}
			seen[p] = svc
		}
		require.Len(t, seen, len(Offsets()))
	}
}

func TestPort(t *testing.T) {
	tests := []struct {
		svc      Service
		expected int
	}{
		{P2P, 26800},
		{RPC, 26801},
		{GRPC, 26802},
		{API, 26803},
		{EVMRPC, 26807},
		{EVMWS, 26808},
	}

	for _, tt := range tests {
		t.Run(tt.svc.String(), func(t *testing.T) {
			p, err := Port(26800, tt.svc)
			require.NoError(t, err)
			require.Equal(t, tt.expected, p)
		})
	}

	_, err := Port(26800, Service(99))
	require.Error(t, err)
}

func TestNatPort(t *testing.T) {
	p, err := NatPort(26800, RPC)
	require.NoError(t, err)
	require.Equal(t, nat.Port("26801/tcp"), p)
	require.Equal(t, 26801, p.Int())

	set, err := PortSet(26800)
	require.NoError(t, err)
	require.Len(t, set, len(Services()))
	require.Contains(t, set, nat.Port("26807/tcp"))
}

func TestParseService(t *testing.T) {
	for _, svc := range Services() {
		parsed, err := ParseService(svc.String())
		require.NoError(t, err)
		require.Equal(t, svc, parsed)
	}
	_, err := ParseService("websocket")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(26800, 1))
	require.NoError(t, Validate(26800, 4))
	require.Error(t, Validate(0, 1))
	require.Error(t, Validate(65530, 1))
	require.Error(t, Validate(65500, 4))
}

func TestOverlaps(t *testing.T) {
	// 150 apart leaves room for many validators.
	require.False(t, Overlaps(26800, 2, 26950, 2))
	require.True(t, Overlaps(26800, 2, 26805, 1))
	require.True(t, Overlaps(26800, 3, 26820, 1))
	require.False(t, Overlaps(26800, 1, 26809, 1))
}
