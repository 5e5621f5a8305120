package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
worker:
  concurrency: 6
  max_attempts: 5
  idle_sleep_ms: 100
logging:
  development: false
queues:
  - name: priority
    kind: memory
    capacity: 256
  - name: normal
    kind: redis
weights:
  priority: 3
  normal: 2
redis:
  addr: redis.internal:6379
  db: 2
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Worker.Concurrency != 6 {
		t.Fatalf("expected concurrency 6, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Logging.Development {
		t.Fatal("expected development logging disabled")
	}
	if len(cfg.Queues) != 2 || cfg.Queues[0].Name != "priority" || cfg.Queues[1].Kind != KindRedis {
		t.Fatalf("unexpected queues: %+v", cfg.Queues)
	}
	if cfg.Weights["priority"] != 3 || cfg.Weights["normal"] != 2 {
		t.Fatalf("unexpected weights: %+v", cfg.Weights)
	}
	if cfg.Redis.Addr != "redis.internal:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if len(cfg.Queues) != 1 || cfg.Queues[0].Kind != KindMemory {
		t.Fatalf("expected single default memory queue, got %+v", cfg.Queues)
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Server: ServerConfig{Port: 8080},
			Worker: WorkerConfig{Concurrency: 2},
			Queues: []QueueConfig{{Name: "a", Kind: KindMemory}},
		}
	}

	cfg := base()
	cfg.Queues = append(cfg.Queues, QueueConfig{Name: "a", Kind: KindMemory})
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected duplicate queue name error")
	}

	cfg = base()
	cfg.Queues[0].Kind = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown kind error")
	}

	cfg = base()
	cfg.Weights = map[string]int{"a": 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected non-positive weight error")
	}

	cfg = base()
	cfg.Weights = map[string]int{"ghost": 2}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown weight target error")
	}

	cfg = base()
	cfg.Queues = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing queues error")
	}
}
