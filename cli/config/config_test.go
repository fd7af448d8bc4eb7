package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/colony/lode"
	"github.com/pithecene-io/colony/runtime"
	"github.com/pithecene-io/colony/wire"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `listen: 0.0.0.0:6000
profile: pico24
chunk_timeout: 2s
socket_timeout: 250ms
buffer_size: 2048
merge_on_flush: false
metrics_addr: :9100

correction:
  jumps: false
  align_starts: false
  large_jump: 20

storage:
  backend: s3
  path: my-bucket/colony
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true

adapter:
  type: webhook
  url: https://hooks.example.com/colony
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3

parameters:
  omega: 6.28
  kappa: 2.0

agents:
  2:
    stop_id: 2
    stop_delay: 100
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "listen", cfg.Listen, "0.0.0.0:6000")
	assertEqual(t, "profile", cfg.Profile, "pico24")
	assertEqual(t, "metrics_addr", cfg.MetricsAddr, ":9100")
	if cfg.ChunkTimeout.Duration != 2*time.Second || cfg.SocketTimeout.Duration != 250*time.Millisecond {
		t.Errorf("timeouts = %v/%v", cfg.ChunkTimeout.Duration, cfg.SocketTimeout.Duration)
	}
	if cfg.AlignStarts() {
		t.Error("expected correction.align_starts=false")
	}

	assertEqual(t, "storage.backend", cfg.Storage.Backend, "s3")
	sc := cfg.Storage.StoreConfig()
	assertEqual(t, "s3.bucket", sc.S3.Bucket, "my-bucket")
	assertEqual(t, "s3.prefix", sc.S3.Prefix, "colony")
	if !sc.S3.UsePathStyle || sc.S3.Region != "us-east-1" {
		t.Errorf("s3 config = %+v", sc.S3)
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	if cfg.Adapter.Timeout.Duration != 10*time.Second {
		t.Errorf("expected adapter.timeout=10s, got %v", cfg.Adapter.Timeout.Duration)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("expected adapter.retries=3")
	}
	if cfg.Adapter.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("expected Authorization header")
	}

	rc := runtime.DefaultConfig()
	if err := cfg.Apply(&rc); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := rc.Validate(); err != nil {
		t.Fatalf("applied config invalid: %v", err)
	}
	if rc.ListenAddr != "0.0.0.0:6000" || rc.Profile.Name != "pico24" || rc.BufferSize != 2048 {
		t.Errorf("runtime config = %+v", rc)
	}
	if rc.MergeOnFlush || rc.CorrectJumps {
		t.Error("merge_on_flush and correction.jumps should be off")
	}
	if rc.Correction.LargeJump != 20 || rc.Correction.JumpTolerance != 1 {
		t.Errorf("correction = %+v", rc.Correction)
	}
	if rc.Parameters.Omega != 6.28 || rc.Parameters.Kappa != 2 || rc.Parameters.Alpha != 0.2 {
		t.Errorf("parameters = %+v", rc.Parameters)
	}
	agent2 := rc.AgentParameters[2]
	if agent2.StopID != 2 || agent2.StopDelay != 100 || agent2.Omega != 6.28 {
		t.Errorf("agent 2 parameters = %+v", agent2)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rc := runtime.DefaultConfig()
	if err := cfg.Apply(&rc); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if rc.ListenAddr != runtime.DefaultListenAddr || rc.Parameters != wire.DefaultParameterSet() {
		t.Errorf("empty config should keep defaults, got %+v", rc)
	}
	if rc.AgentParameters != nil {
		t.Errorf("AgentParameters = %v, want nil", rc.AgentParameters)
	}
	if !cfg.AlignStarts() {
		t.Error("align_starts defaults to true")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/colony.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "{{invalid yaml")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_COLONY_PATH", "/var/lib/colony")

	yaml := `storage:
  backend: fs
  path: ${TEST_COLONY_PATH}
  region: ${UNSET_COLONY_REGION:-eu-west-1}
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "storage.path", cfg.Storage.Path, "/var/lib/colony")
	assertEqual(t, "storage.region", cfg.Storage.Region, "eu-west-1")
	if got := cfg.Storage.StoreConfig(); got.Backend != lode.BackendFS || got.S3.Bucket != "" {
		t.Errorf("fs store config = %+v", got)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	yaml := `listen: :5000
bogus_key: should_fail
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	yaml := `storage:
  backend: fs
  path: ./data
  unknown_field: bad
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown nested key, got nil")
	}
	if !strings.Contains(err.Error(), "unknown_field") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_CommentsOnlyConfig(t *testing.T) {
	path := writeTemp(t, "# This is a comment\n# Another comment\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed for comments-only config: %v", err)
	}
	if cfg.Listen != "" {
		t.Errorf("expected empty listen, got %q", cfg.Listen)
	}
}

func TestLoad_RetriesZeroDistinctFromNil(t *testing.T) {
	yaml := `adapter:
  type: webhook
  url: https://example.com
  retries: 0
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.Retries == nil {
		t.Fatal("expected retries to be non-nil (*int(0)), got nil")
	}
	if *cfg.Adapter.Retries != 0 {
		t.Errorf("expected retries=0, got %d", *cfg.Adapter.Retries)
	}
}

func TestDuration_InvalidFormat(t *testing.T) {
	yaml := `chunk_timeout: not-a-duration
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error should mention invalid duration, got: %v", err)
	}
}

func TestLoad_RedisAdapterConfig(t *testing.T) {
	yaml := `adapter:
  type: redis
  url: redis://localhost:6379/0
  channel: colony:merges
  latest_key: colony:latest
  timeout: 5s
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "adapter.type", cfg.Adapter.Type, "redis")
	assertEqual(t, "adapter.channel", cfg.Adapter.Channel, "colony:merges")
	assertEqual(t, "adapter.latest_key", cfg.Adapter.LatestKey, "colony:latest")
	if cfg.Adapter.Retries != nil {
		t.Errorf("expected retries to be nil, got %d", *cfg.Adapter.Retries)
	}
}

func TestApply_UnknownProfile(t *testing.T) {
	cfg := &Config{Profile: "pico32"}
	rc := runtime.DefaultConfig()
	if err := cfg.Apply(&rc); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestApply_BadAgentParameters(t *testing.T) {
	path := writeTemp(t, "agents:\n  3:\n    omega: fast\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rc := runtime.DefaultConfig()
	err = cfg.Apply(&rc)
	if err == nil || !strings.Contains(err.Error(), "agent 3") {
		t.Errorf("Apply error = %v, want agent 3 failure", err)
	}
}

func TestApply_OverflowPeriodMovesThreshold(t *testing.T) {
	cfg := &Config{Correction: CorrectionConfig{OverflowPeriod: 100}}
	rc := runtime.DefaultConfig()
	if err := cfg.Apply(&rc); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if rc.Correction.OverflowPeriod != 100 || rc.Correction.StartSkewThreshold != 50 {
		t.Errorf("correction = %+v", rc.Correction)
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "colony.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
