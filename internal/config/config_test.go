package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseServers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  []string{},
		},
		{
			name:  "single server",
			input: "Server-1",
			want:  []string{"Server-1"},
		},
		{
			name:  "multiple servers",
			input: "Server-1,Server-2,Server-3",
			want:  []string{"Server-1", "Server-2", "Server-3"},
		},
		{
			name:  "with spaces and empty entries",
			input: " a , b ,, c ",
			want:  []string{"a", "b", "c"},
		},
		{
			name:    "duplicate",
			input:   "a,b,a",
			wantErr: true,
		},
		{
			name:    "embedded space",
			input:   "a b,c",
			wantErr: true,
		},
		{
			name:    "peer syntax",
			input:   "n1=127.0.0.1:5000",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServers(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseServers() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if len(got) != len(tt.want) {
					t.Errorf("ParseServers() length = %d, want %d", len(got), len(tt.want))
					return
				}
				for i := range got {
					if got[i] != tt.want[i] {
						t.Errorf("ParseServers()[%d] = %v, want %v", i, got[i], tt.want[i])
					}
				}
			}
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.Ring.Slots != 512 || cfg.Ring.VNodes != 20 || cfg.Ring.Replication != 3 {
		t.Errorf("Unexpected ring defaults: %+v", cfg.Ring)
	}
	if len(cfg.Servers) != 4 {
		t.Errorf("Expected 4 default servers, got %d", len(cfg.Servers))
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lbring.yaml")
	content := `
http:
  addr: ":8080"
ring:
  vnodes: 9
  policy: current
servers: [alpha, beta]
health:
  mode: grpc
  interval: 5s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Ring.VNodes != 9 || cfg.Ring.Slots != 512 {
		t.Errorf("Ring = %+v, want vnodes 9 and default slots", cfg.Ring)
	}
	if cfg.Ring.Policy != "current" {
		t.Errorf("Ring.Policy = %q", cfg.Ring.Policy)
	}
	if len(cfg.Servers) != 2 || cfg.Servers[0] != "alpha" {
		t.Errorf("Servers = %v", cfg.Servers)
	}
	if cfg.Health.Mode != HealthGRPC || cfg.Health.Interval != 5*time.Second {
		t.Errorf("Health = %+v", cfg.Health)
	}
	if cfg.Health.Timeout != 2*time.Second {
		t.Errorf("Health.Timeout default lost: %s", cfg.Health.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("ring: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}

	cfg, err := Load("")
	if err != nil || cfg.HTTP.Addr != ":5000" {
		t.Errorf("Load(\"\") = %+v, %v; want defaults", cfg.HTTP, err)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Ring.Slots = 0
	cfg.Ring.Replication = 1
	cfg.Ring.Policy = "random"
	cfg.Health.Mode = "ping"
	cfg.IDs.Node = 2048

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"ring.slots", "ring.vnodes (20) cannot exceed", "ring.replication", "ring.policy", "health.mode", "ids.node"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %q", err, want)
		}
	}
}

func TestValidate_HealthOffSkipsHealthSettings(t *testing.T) {
	cfg := Default()
	cfg.Health = HealthConfig{Mode: HealthOff}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate_SlotsUpperBound(t *testing.T) {
	cfg := Default()
	cfg.Ring.Slots = MaxSlots
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() at MaxSlots error = %v", err)
	}

	cfg.Ring.Slots = MaxSlots + 1
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "ring.slots must be at most") {
		t.Errorf("Validate() error = %v, want upper bound error", err)
	}
}
