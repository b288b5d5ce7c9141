package config

import (
	"errors"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the process-wide configuration, decoded once at startup and
// injected into the components that need it.
type Config struct {
	Port      string `env:"PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	// AllowedKeys is the comma-separated stream key allow-list.
	AllowedKeys string `env:"RTMP_ALLOWED_KEYS"`
	// OutputRoot is the directory under which each stream key gets its own tree.
	OutputRoot string `env:"HLS_ROOT,default=/var/www/hls"`

	FFmpegPath     string        `env:"FFMPEG_PATH,default=/usr/bin/ffmpeg"`
	IngestURL      string        `env:"RTMP_INGEST_URL,default=rtmp://127.0.0.1:1935/live"`
	SegmentSeconds int           `env:"HLS_SEGMENT_SECONDS,default=3"`
	ListSize       int           `env:"HLS_LIST_SIZE,default=3"`
	Ladder         string        `env:"TRANSCODE_LADDER"`
	KillTimeout    time.Duration `env:"KILL_TIMEOUT,default=2s"`

	// SessionsRateLimit caps GET /rtmp/sessions per client IP and minute. The
	// publish hooks are never limited.
	SessionsRateLimit int           `env:"SESSIONS_RATE_LIMIT,default=120"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// FromEnv decodes Config from the environment. Unset variables take the
// defaults declared in the struct tags.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, err
	}
	return cfg, nil
}
