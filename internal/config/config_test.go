package config

import (
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/signagedisplay/internal/scroll"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PROJECT_ID", "signage-prod")
	cfg := Load()

	if cfg.Addr != ":5000" || cfg.DocumentSource != SourceFirestore || cfg.PageCacheBackend != BackendFS {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RotationInterval != 30*time.Second || cfg.RestartDelay != 3*time.Second || cfg.ScrollDwell != 2*time.Second {
		t.Errorf("unexpected timing defaults: %+v", cfg)
	}
	if cfg.ScrollSpeed != scroll.Normal || cfg.Playlist {
		t.Errorf("unexpected scroll defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults with a project should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DOCUMENT_SOURCE", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://signage@localhost/signage")
	t.Setenv("ROTATION_INTERVAL_SECONDS", "2")
	t.Setenv("POLL_INTERVAL_SECONDS", "not-a-number")
	t.Setenv("CONTINUOUS_PLAYLIST", "true")
	t.Setenv("SCROLL_SPEED", "FAST")
	cfg := Load()

	if cfg.DocumentSource != SourcePostgres || !cfg.Playlist || cfg.ScrollSpeed != scroll.Fast {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Errorf("invalid integers must fall back, got %s", cfg.PollInterval)
	}
	if got := cfg.ClampedRotationInterval(); got != 5*time.Second {
		t.Errorf("expected the interval clamped to 5s, got %s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		t.Setenv("PROJECT_ID", "p")
		return Load()
	}
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing project", func(c *Config) { c.ProjectID = "" }, "PROJECT_ID"},
		{"postgres without dsn", func(c *Config) { c.DocumentSource = SourcePostgres }, "DATABASE_URL"},
		{"unknown source", func(c *Config) { c.DocumentSource = "mongo" }, "DOCUMENT_SOURCE"},
		{"gcs without bucket", func(c *Config) { c.PageCacheBackend = BackendGCS }, "PAGE_CACHE_BUCKET"},
		{"s3 without keys", func(c *Config) { c.PageCacheBackend = BackendS3; c.PageCacheBucket = "pages" }, "S3_ACCESS_KEY"},
		{"unknown decoder", func(c *Config) { c.Decoder = "ghostscript" }, "decoder"},
		{"unknown speed", func(c *Config) { c.ScrollSpeed = "warp" }, "speed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
