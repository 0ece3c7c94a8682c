package it

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthOff = "health:\n  mode: off\n"

type replicas struct {
	Message struct {
		N        int      `json:"N"`
		Replicas []string `json:"replicas"`
	} `json:"message"`
	Status string `json:"status"`
}

type checkpoint struct {
	Servers  []string         `json:"servers"`
	Requests map[string]int64 `json:"requests"`
}

func newHarness(t *testing.T) *Harness {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	h, err := NewHarness(DefaultBinary)
	if err != nil {
		t.Skip(err.Error())
	}
	t.Cleanup(h.Stop)
	return h
}

func TestSmoke_RouteAddRemove(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	p, err := h.Start(ctx, "smoke", Options{
		HTTPPort: 61500,
		GRPCPort: 61501,
		Servers:  []string{"Server-1", "Server-2", "Server-3"},
		Config:   healthOff,
	})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		var body struct {
			Message string `json:"message"`
		}
		code, err := p.Get(ctx, "/home", &body)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, body.Message, "Hello from Server-")
	}

	var cp checkpoint
	_, err = p.Get(ctx, "/checkpoint", &cp)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Server-1", "Server-2", "Server-3"}, cp.Servers)
	var total int64
	for _, c := range cp.Requests {
		total += c
	}
	assert.Equal(t, int64(100), total)

	var rep replicas
	code, err := p.Post(ctx, "/add", map[string]interface{}{"n": 2, "hostnames": []string{"Server-4"}}, &rep)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5, rep.Message.N)
	assert.Contains(t, rep.Message.Replicas, "Server-4")

	code, err = p.Post(ctx, "/rm", map[string]interface{}{"n": 1, "hostnames": []string{"Server-1"}}, &rep)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 4, rep.Message.N)
	assert.NotContains(t, rep.Message.Replicas, "Server-1")

	cp = checkpoint{}
	_, err = p.Get(ctx, "/checkpoint", &cp)
	require.NoError(t, err)
	total = 0
	for _, c := range cp.Requests {
		total += c
	}
	assert.Equal(t, int64(100), total, "removal must hand its count to peers")
}

func TestSmoke_GRPCHealthFollowsRing(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	p, err := h.Start(ctx, "grpc-health", Options{
		HTTPPort: 61510,
		GRPCPort: 61511,
		Servers:  []string{"Server-1"},
		Config:   healthOff,
	})
	require.NoError(t, err)

	status, err := p.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	_, err = p.Post(ctx, "/rm", map[string]interface{}{"n": 1}, nil)
	require.NoError(t, err)

	status, err = p.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	code, err := p.Get(ctx, "/home", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestSmoke_EvictsUnreachableBackend(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()
	_, port, err := net.SplitHostPort(backend.Listener.Addr().String())
	require.NoError(t, err)

	// 127.0.0.2 is loopback but nothing listens there on the backend port.
	p, err := h.Start(ctx, "evict", Options{
		HTTPPort: 61520,
		GRPCPort: 61521,
		Servers:  []string{"127.0.0.1", "127.0.0.2"},
		Config: "health:\n  mode: http\n  interval: 200ms\n  timeout: 500ms\n  failures: 2\n" +
			"  path: /heartbeat\n  port: " + port + "\n",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var cp checkpoint
		if _, err := p.Get(ctx, "/checkpoint", &cp); err != nil {
			return false
		}
		return len(cp.Servers) == 1 && cp.Servers[0] == "127.0.0.1"
	}, 20*time.Second, 200*time.Millisecond)

	var rep replicas
	_, err = p.Get(ctx, "/rep", &rep)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1"}, rep.Message.Replicas)
}
