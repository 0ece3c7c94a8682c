package it

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultBinary is where the integration tests expect the lbring binary.
const DefaultBinary = "./lbring"

// Harness launches lbring processes for integration tests.
type Harness struct {
	procs      []*Process
	logDir     string
	binaryPath string
	mu         sync.Mutex
}

// Process is a running lbring instance.
type Process struct {
	Name     string
	HTTPAddr string
	GRPCAddr string

	cmd     *exec.Cmd
	logFile *os.File
	http    *http.Client
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
}

// Options configure a launched process.
type Options struct {
	HTTPPort int
	GRPCPort int
	Servers  []string
	VNodes   int
	// Config is written to a YAML file and passed with --config when set.
	Config string
}

// NewHarness creates a harness that runs binaryPath.
func NewHarness(binaryPath string) (*Harness, error) {
	if binaryPath == "" {
		binaryPath = DefaultBinary
	}
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("binary not found at %s, build it first with 'go build -o internal/it/lbring ./cmd/lbring'", binaryPath)
	}

	logDir := filepath.Join(".local", "it-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &Harness{
		procs:      make([]*Process, 0),
		logDir:     logDir,
		binaryPath: binaryPath,
	}, nil
}

// Start launches a process and waits until its heartbeat answers.
func (h *Harness) Start(ctx context.Context, name string, opts Options) (*Process, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	logFile, err := os.Create(filepath.Join(h.logDir, name+".log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	args := []string{
		"--http", fmt.Sprintf("127.0.0.1:%d", opts.HTTPPort),
		"--grpc", fmt.Sprintf("127.0.0.1:%d", opts.GRPCPort),
		"--servers", strings.Join(opts.Servers, ","),
	}
	if opts.VNodes > 0 {
		args = append(args, "--vnodes", strconv.Itoa(opts.VNodes))
	}
	if opts.Config != "" {
		path := filepath.Join(h.logDir, name+".yaml")
		if err := os.WriteFile(path, []byte(opts.Config), 0644); err != nil {
			logFile.Close()
			return nil, fmt.Errorf("failed to write config: %w", err)
		}
		args = append(args, "--config", path)
	}

	cmd := exec.CommandContext(ctx, h.binaryPath, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	grpcAddr := fmt.Sprintf("127.0.0.1:%d", opts.GRPCPort)
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		cmd.Process.Kill()
		logFile.Close()
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", name, err)
	}

	p := &Process{
		Name:     name,
		HTTPAddr: fmt.Sprintf("127.0.0.1:%d", opts.HTTPPort),
		GRPCAddr: grpcAddr,
		cmd:      cmd,
		logFile:  logFile,
		http:     &http.Client{Timeout: 5 * time.Second},
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
	}
	h.procs = append(h.procs, p)

	if err := p.waitForReady(ctx, 10*time.Second); err != nil {
		p.Stop()
		return nil, fmt.Errorf("%s failed to become ready: %w", name, err)
	}
	return p, nil
}

// waitForReady polls /heartbeat until it answers or timeout passes.
func (p *Process) waitForReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for %s", p.Name)
			}
			if code, err := p.Get(ctx, "/heartbeat", nil); err == nil && code == http.StatusOK {
				return nil
			}
		}
	}
}

// Get issues a GET and decodes the JSON body into out when out is non-nil.
func (p *Process) Get(ctx context.Context, path string, out interface{}) (int, error) {
	return p.do(ctx, http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes the response into out.
func (p *Process) Post(ctx context.Context, path string, body, out interface{}) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	return p.do(ctx, http.MethodPost, path, data, out)
}

func (p *Process) do(ctx context.Context, method, path string, body []byte, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, "http://"+p.HTTPAddr+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// Health returns the gRPC health status of the default service.
func (p *Process) Health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := p.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Stop kills the process and releases its resources.
func (p *Process) Stop() {
	if p.conn != nil {
		p.conn.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
		p.cmd.Wait()
	}
	if p.logFile != nil {
		p.logFile.Close()
	}
}

// Stop stops every process started by the harness.
func (h *Harness) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range h.procs {
		p.Stop()
	}
	h.procs = nil
}
