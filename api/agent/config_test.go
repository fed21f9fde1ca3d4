package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParsePolicyMode(t *testing.T) {
	for _, good := range []string{"per_worker", "per_request", "oneshot"} {
		if _, err := ParsePolicyMode(good); err != nil {
			t.Errorf("%s: unexpected error: %v", good, err)
		}
	}
	if _, err := ParsePolicyMode("per_cpu"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestOneshotClampsParallelism(t *testing.T) {
	p := NewPoolPolicy(PolicyOneshot, 64, 0)
	if p.MaxParallelism != 1 {
		t.Fatalf("got %d, want 1", p.MaxParallelism)
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv(EnvPolicy, "per_request")
	t.Setenv(EnvMaxParallelism, "3")
	t.Setenv(EnvRequestWaitTimeout, "250ms")
	t.Setenv(EnvServicePath, "/srv/svc")

	cfg, err := NewConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Policy.Mode != PolicyPerRequest {
		t.Errorf("mode: got %s", cfg.Policy.Mode)
	}
	if cfg.Policy.MaxParallelism != 3 {
		t.Errorf("max parallelism: got %d", cfg.Policy.MaxParallelism)
	}
	if cfg.Policy.RequestWaitTimeout != 250*time.Millisecond {
		t.Errorf("wait timeout: got %s", cfg.Policy.RequestWaitTimeout)
	}
	if cfg.Service.Path != "/srv/svc" {
		t.Errorf("service path: got %s", cfg.Service.Path)
	}
}

func TestNewConfigRejectsUnknownPolicy(t *testing.T) {
	t.Setenv(EnvPolicy, "nope")
	if _, err := NewConfig(); err == nil {
		t.Fatal("expected error")
	}
}

func TestConfigFileOverlay(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "iso.yaml")
	body := []byte("policy:\n  mode: oneshot\n  max_parallelism: 9\nservice:\n  path: /from/file\n")
	if err := os.WriteFile(file, body, 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvPolicy, "per_worker")
	t.Setenv(EnvConfigFile, file)

	cfg, err := NewConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Policy.Mode != PolicyOneshot {
		t.Errorf("file should win over env, got %s", cfg.Policy.Mode)
	}
	// the file asked for 9 but oneshot re-normalizes to 1
	if cfg.Policy.MaxParallelism != 1 {
		t.Errorf("got %d, want 1", cfg.Policy.MaxParallelism)
	}
	if cfg.Service.Path != "/from/file" {
		t.Errorf("service path: got %s", cfg.Service.Path)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Policy: PoolPolicy{Mode: PolicyPerWorker, MaxParallelism: 1}, InboundBuffer: 1}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	bad := *cfg
	bad.InboundBuffer = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero inbound buffer should fail")
	}

	bad = *cfg
	bad.GracefulExitDeadline = -time.Second
	if err := bad.Validate(); err == nil {
		t.Error("negative deadline should fail")
	}
}
