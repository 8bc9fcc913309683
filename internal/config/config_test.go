package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeOffline || cfg.HTTPAddr != ":8080" || cfg.DB.Driver != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Fatalf("token ttl = %v", cfg.Auth.TokenTTL)
	}
	if cfg.Submission.Policy != "reject" {
		t.Fatalf("policy = %q", cfg.Submission.Policy)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
db:
  driver: memory
submission:
  policy: replace
cors:
  origins:
    - https://a.example
rate_limit:
  per_minute: 5
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("EXAMS_HTTP_ADDR", ":9999")
	t.Setenv("EXAMS_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.Driver != "memory" || cfg.Submission.Policy != "replace" || cfg.RateLimit.PerMinute != 5 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.HTTPAddr != ":9999" || cfg.Log.Level != "debug" {
		t.Fatalf("env values not applied: %+v", cfg)
	}
	if len(cfg.CORS.Origins) != 1 || cfg.CORS.Origins[0] != "https://a.example" {
		t.Fatalf("origins = %v", cfg.CORS.Origins)
	}
}

func TestValidate(t *testing.T) {
	ok := Config{Mode: ModeOffline, DB: DBConfig{Driver: "sqlite"}, Auth: AuthConfig{HMACSecret: devSecret, TokenTTL: time.Hour}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("offline dev config rejected: %v", err)
	}

	online := ok
	online.Mode = ModeOnline
	if err := online.Validate(); err == nil {
		t.Fatalf("online mode accepted the dev secret")
	}
	online.Auth.HMACSecret = "0123456789abcdef0123456789abcdef"
	if err := online.Validate(); err != nil {
		t.Fatalf("online with strong secret: %v", err)
	}

	bad := ok
	bad.Submission.Policy = "merge"
	if err := bad.Validate(); err == nil {
		t.Fatalf("unknown policy accepted")
	}
	bad = ok
	bad.DB.Driver = "oracle"
	if err := bad.Validate(); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestSplitOrigins(t *testing.T) {
	got := splitOrigins([]string{"http://a, http://b", " ", "http://c"})
	want := []string{"http://a", "http://b", "http://c"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
