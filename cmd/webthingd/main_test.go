package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/webthing-core/internal/drivers"
	"github.com/nerrad567/webthing-core/internal/infrastructure/config"
	"github.com/nerrad567/webthing-core/internal/infrastructure/logging"
	"github.com/nerrad567/webthing-core/internal/thing"
)

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("WEBTHING_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with a missing config file")
	}
}

// TestRun_ValidationFailure verifies run rejects a config that fails validation.
func TestRun_ValidationFailure(t *testing.T) {
	t.Setenv("WEBTHING_CONFIG", writeConfig(t, `
things:
  action_workers: 0
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when things.action_workers is 0")
	}
}

// TestRun_StartupAndShutdown starts the daemon with the journal enabled and
// every network sink disabled, then checks the API and a clean shutdown.
func TestRun_StartupAndShutdown(t *testing.T) {
	port := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "webthing.db")

	t.Setenv("WEBTHING_CONFIG", writeConfig(t, fmt.Sprintf(`
api:
  host: "127.0.0.1"
  port: %d
things:
  sensor:
    enabled: true
    poll_interval: 50ms
database:
  enabled: true
  path: %q
logging:
  level: error
  format: text
`, port, dbPath)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	client := &http.Client{Timeout: time.Second}

	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for {
		var err error
		resp, err = client.Get(base + "/health")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("API did not come up: %v", err)
		}
		select {
		case err := <-done:
			t.Fatalf("run() exited early: %v", err)
		case <-time.After(20 * time.Millisecond):
		}
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decoding /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Errorf("/health = %d %v, want 200 ok", resp.StatusCode, health)
	}

	resp, err := client.Get(base + "/things")
	if err != nil {
		t.Fatalf("GET /things error = %v", err)
	}
	var things []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&things); err != nil {
		t.Fatalf("decoding /things: %v", err)
	}
	resp.Body.Close()
	if len(things) != 2 {
		t.Fatalf("GET /things returned %d things, want 2", len(things))
	}
	if things[0]["id"] != drivers.DefaultLightID || things[1]["id"] != drivers.DefaultSensorID {
		t.Errorf("thing order = %v, %v", things[0]["id"], things[1]["id"])
	}

	resp, err = client.Get(base + "/things/" + drivers.DefaultLightID + "/journal")
	if err != nil {
		t.Fatalf("GET journal error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET journal status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil on shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestBuildThings(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ThingsConfig
		wantIDs []string
		wantErr bool
	}{
		{
			name: "both enabled",
			cfg: config.ThingsConfig{
				Light:  config.LightConfig{Enabled: true},
				Sensor: config.SensorConfig{Enabled: true, PollInterval: time.Hour},
			},
			wantIDs: []string{drivers.DefaultLightID, drivers.DefaultSensorID},
		},
		{
			name: "light only",
			cfg: config.ThingsConfig{
				Light: config.LightConfig{Enabled: true, ID: "lamp-2"},
			},
			wantIDs: []string{"lamp-2"},
		},
		{
			name:    "none",
			cfg:     config.ThingsConfig{},
			wantIDs: []string{},
		},
		{
			name: "duplicate id",
			cfg: config.ThingsConfig{
				Light:  config.LightConfig{Enabled: true, ID: "same"},
				Sensor: config.SensorConfig{Enabled: true, ID: "same", PollInterval: time.Hour},
			},
			wantIDs: []string{"same"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := thing.NewRegistry()
			defer registry.Close()

			err := buildThings(tt.cfg, registry, logging.Default())
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildThings() error = %v, wantErr %v", err, tt.wantErr)
			}

			got := registry.List()
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("registry has %d things, want %d", len(got), len(tt.wantIDs))
			}
			for i, th := range got {
				if th.ID() != tt.wantIDs[i] {
					t.Errorf("thing[%d] = %q, want %q", i, th.ID(), tt.wantIDs[i])
				}
			}
		})
	}
}
