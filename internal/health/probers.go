package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HTTPProber probes http://<name>:<port><path>. Any 2xx response is healthy.
type HTTPProber struct {
	Client *http.Client
	Port   int
	Path   string
}

// NewHTTPProber returns a prober for the heartbeat endpoint of every backend.
func NewHTTPProber(port int, path string) *HTTPProber {
	return &HTTPProber{Client: &http.Client{}, Port: port, Path: path}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, name string) error {
	url := "http://" + net.JoinHostPort(name, strconv.Itoa(p.Port)) + p.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe for %s: %w", name, err)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe %s: unexpected status %d", name, resp.StatusCode)
	}
	return nil
}

// GRPCProber calls grpc.health.v1.Health/Check on <name>:<port>. Only SERVING
// is healthy. Connections are cached per backend; call Close when done.
type GRPCProber struct {
	Port    int
	Service string

	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCProber returns a prober for the default health service of every
// backend.
func NewGRPCProber(port int) *GRPCProber {
	return &GRPCProber{Port: port, conns: make(map[string]*grpc.ClientConn)}
}

// Probe implements Prober.
func (p *GRPCProber) Probe(ctx context.Context, name string) error {
	conn, err := p.conn(name)
	if err != nil {
		return err
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: p.Service})
	if err != nil {
		return fmt.Errorf("probe %s: %w", name, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("probe %s: status %s", name, resp.GetStatus())
	}
	return nil
}

// conn returns the cached connection for name, creating it if needed.
func (p *GRPCProber) conn(name string) (*grpc.ClientConn, error) {
	p.mu.RLock()
	conn, exists := p.conns[name]
	p.mu.RUnlock()
	if exists {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, exists := p.conns[name]; exists {
		return conn, nil
	}
	if p.conns == nil {
		p.conns = make(map[string]*grpc.ClientConn)
	}

	target := net.JoinHostPort(name, strconv.Itoa(p.Port))
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}
	p.conns[name] = conn
	return conn, nil
}

// Forget closes and drops the connection to name.
func (p *GRPCProber) Forget(name string) {
	p.mu.Lock()
	conn, exists := p.conns[name]
	delete(p.conns, name)
	p.mu.Unlock()

	if exists {
		_ = conn.Close()
	}
}

// Close closes every cached connection.
func (p *GRPCProber) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs error
	for name, conn := range p.conns {
		errs = multierr.Append(errs, conn.Close())
		delete(p.conns, name)
	}
	return errs
}
