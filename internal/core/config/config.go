package config

import (
	"fmt"
	"time"

	redisclient "github.com/vietddude/downlink/internal/infra/redis"
	"github.com/vietddude/downlink/internal/infra/storage/postgres"
)

// Duration parses YAML durations given either as Go duration strings
// ("30s", "10m") or as bare integers meaning seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var n int64
	if err := unmarshal(&n); err != nil {
		return err
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig             `yaml:"server"`
	Logging     LoggingConfig            `yaml:"logging"`
	Redis       redisclient.Config       `yaml:"redis"`
	Database    postgres.Config          `yaml:"database"`
	Queue       QueueConfig              `yaml:"queue"`
	Worker      WorkerConfig             `yaml:"worker"`
	Idempotency IdempotencyConfig        `yaml:"idempotency"`
	VideoInfo   VideoInfoConfig          `yaml:"video_info"`
	Push        PushConfig               `yaml:"push"`
	Breakers    map[string]BreakerConfig `yaml:"breakers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Port serves the webhook ingress.
	Port int `yaml:"port"`
	// HealthPort serves /health and /metrics.
	HealthPort int `yaml:"health_port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// QueueConfig holds the stream transport settings.
type QueueConfig struct {
	Stream   string   `yaml:"stream"`
	Group    string   `yaml:"group"`
	Consumer string   `yaml:"consumer"`
	MinIdle  Duration `yaml:"min_idle"`
}

// WorkerConfig holds queue consumer settings.
type WorkerConfig struct {
	BatchSize     int      `yaml:"batch_size"`
	Block         Duration `yaml:"block"`
	MigrationsDir string   `yaml:"migrations_dir"`
	// Retention disables job pruning when zero.
	Retention Duration `yaml:"retention"`
}

// IdempotencyConfig holds the webhook dedup window.
type IdempotencyConfig struct {
	Window Duration `yaml:"window"`
}

// VideoInfoConfig holds upstream provider settings.
type VideoInfoConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
	Proxy    struct {
		ListURL      string   `yaml:"list_url"`
		CheckURL     string   `yaml:"check_url"`
		CheckTimeout Duration `yaml:"check_timeout"`
		CacheFor     Duration `yaml:"cache_for"`
	} `yaml:"proxy"`
}

// PushConfig holds push gateway settings.
type PushConfig struct {
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Timeout  Duration `yaml:"timeout"`
}

// BreakerConfig holds overrides for one dependency's circuit.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
	SuccessThreshold int      `yaml:"success_threshold"`
}
