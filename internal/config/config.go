package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/signagedisplay/internal/decoder"
	"github.com/Lllllllleong/signagedisplay/internal/rotation"
	"github.com/Lllllllleong/signagedisplay/internal/scroll"
)

const (
	SourceFirestore = "firestore"
	SourcePostgres  = "postgres"

	BackendFS  = "fs"
	BackendGCS = "gcs"
	BackendS3  = "s3"
)

type Config struct {
	Addr string

	ProjectID           string
	DocumentSource      string
	FirestoreCollection string
	FirestoreDatabase   string
	DatabaseURL         string
	PollInterval        time.Duration

	PageCacheBackend string
	PageCacheBucket  string
	PageCacheBaseURL string
	PageCacheDir     string
	// S3-compatible page cache (minio)
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	// Redis manifest index, disabled when empty
	RedisURL string

	Decoder       decoder.Type
	SourceBaseURL string

	ScrollSpeed      scroll.Speed
	ScrollDwell      time.Duration
	RestartDelay     time.Duration
	RotationInterval time.Duration
	Playlist         bool
}

func Load() Config {
	return Config{
		Addr:                getenv("DISPLAY_ADDR", ":5000"),
		ProjectID:           getenv("PROJECT_ID", ""),
		DocumentSource:      strings.ToLower(getenv("DOCUMENT_SOURCE", SourceFirestore)),
		FirestoreCollection: getenv("FIRESTORE_COLLECTION", "documents"),
		FirestoreDatabase:   getenv("FIRESTORE_DATABASE", ""),
		DatabaseURL:         getenv("DATABASE_URL", ""),
		PollInterval:        time.Duration(getenvInt("POLL_INTERVAL_SECONDS", 15)) * time.Second,

		PageCacheBackend: strings.ToLower(getenv("PAGE_CACHE_BACKEND", BackendFS)),
		PageCacheBucket:  getenv("PAGE_CACHE_BUCKET", ""),
		PageCacheBaseURL: getenv("PAGE_CACHE_BASE_URL", ""),
		PageCacheDir:     getenv("PAGE_CACHE_DIR", "./data/document-pages"),
		S3Endpoint:       getenv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:      getenv("S3_ACCESS_KEY", ""),
		S3SecretKey:      getenv("S3_SECRET_KEY", ""),
		S3UseSSL:         getenvBool("S3_USE_SSL", false),
		RedisURL:         getenv("REDIS_URL", ""),

		Decoder:       decoder.Type(strings.ToLower(getenv("DECODER", string(decoder.TypeFitz)))),
		SourceBaseURL: getenv("SOURCE_BASE_URL", ""),

		ScrollSpeed:      scroll.Speed(strings.ToLower(getenv("SCROLL_SPEED", string(scroll.Normal)))),
		ScrollDwell:      time.Duration(getenvInt("SCROLL_DWELL_SECONDS", 2)) * time.Second,
		RestartDelay:     time.Duration(getenvInt("AUTO_RESTART_DELAY_SECONDS", 3)) * time.Second,
		RotationInterval: time.Duration(getenvInt("ROTATION_INTERVAL_SECONDS", 30)) * time.Second,
		Playlist:         getenvBool("CONTINUOUS_PLAYLIST", false),
	}
}

// Validate reports the first setting the display cannot start with.
func (c Config) Validate() error {
	switch c.DocumentSource {
	case SourceFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID environment variable must be set")
		}
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable must be set")
		}
	default:
		return fmt.Errorf("unknown DOCUMENT_SOURCE %q", c.DocumentSource)
	}

	switch c.PageCacheBackend {
	case BackendFS:
		if c.PageCacheDir == "" {
			return fmt.Errorf("PAGE_CACHE_DIR environment variable must be set")
		}
	case BackendGCS:
		if c.PageCacheBucket == "" {
			return fmt.Errorf("PAGE_CACHE_BUCKET environment variable must be set")
		}
	case BackendS3:
		if c.PageCacheBucket == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("PAGE_CACHE_BUCKET, S3_ACCESS_KEY and S3_SECRET_KEY environment variables must be set")
		}
	default:
		return fmt.Errorf("unknown PAGE_CACHE_BACKEND %q", c.PageCacheBackend)
	}

	if _, err := decoder.New(c.Decoder); err != nil {
		return err
	}
	if _, err := scroll.ParseSpeed(string(c.ScrollSpeed)); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	if c.ScrollDwell < 0 || c.RestartDelay < 0 {
		return fmt.Errorf("scroll delays must not be negative")
	}
	return nil
}

// ClampedRotationInterval is the rotation interval the scheduler will actually use.
func (c Config) ClampedRotationInterval() time.Duration {
	return rotation.ClampInterval(c.RotationInterval)
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
