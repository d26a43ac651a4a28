package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blackms/flyswarm-go/internal/infrastructure/events"
)

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
		want []string
	}{
		{
			name: "assigned",
			ev: events.Event{Type: events.EventTaskAssigned, Payload: map[string]interface{}{
				"taskId": "task-1", "workerId": "worker-2", "taskType": "implement-x",
			}},
			want: []string{"task:assigned", "task-1 -> worker-2", "(implement-x)"},
		},
		{
			name: "failed",
			ev: events.Event{Type: events.EventTaskFailed, Payload: map[string]interface{}{
				"taskId": "task-1", "workerId": "worker-2", "error": "boom",
			}},
			want: []string{"task-1 by worker-2: boom"},
		},
		{
			name: "spawned",
			ev: events.Event{Type: events.EventWorkerSpawned, Payload: map[string]interface{}{
				"workerId": "worker-5", "type": "coder",
			}},
			want: []string{"worker-5 (coder)"},
		},
		{
			name: "resolved",
			ev: events.Event{Type: events.EventConsensusResolved, Payload: map[string]interface{}{
				"proposalId": "consensus-1", "status": "approved", "approvals": 3, "votes": 4,
			}},
			want: []string{"consensus-1 approved (3/4)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatEvent(tt.ev)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Fatalf("expected %q to contain %q", got, w)
				}
			}
		})
	}
}

func TestTrimLine(t *testing.T) {
	if got := trimLine("short", 10); got != "short" {
		t.Fatalf("expected short, got %q", got)
	}
	if got := trimLine("a much longer topic", 10); got != "a much ..." {
		t.Fatalf("expected truncation, got %q", got)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flyswarm.yaml")
	if err := os.WriteFile(path, []byte("swarm:\n  id: swarm-file\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ConfigPath, LogLevel = path, "debug"
	t.Cleanup(func() { ConfigPath, LogLevel = "", "" })

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Swarm.ID != "swarm-file" {
		t.Fatalf("expected swarm-file, got %q", cfg.Swarm.ID)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug level override, got %q", cfg.Logging.Level)
	}
	if len(cfg.Swarm.Workers) != 4 {
		t.Fatalf("expected default roster to survive, got %d workers", len(cfg.Swarm.Workers))
	}

	LogLevel = "loud"
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected invalid level to fail validation")
	}
}
