package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the process configuration read from the environment
type Config struct {
	Server   ServerConfig   `envconfig:"SERVER"`
	Log      LogConfig      `envconfig:"LOG"`
	LLM      LLMConfig      `envconfig:"LLM"`
	Speech   SpeechConfig   `envconfig:"SPEECH"`
	Store    StoreConfig    `envconfig:"STORE"`
	Prefetch PrefetchConfig `envconfig:"PREFETCH"`
	Twilio   TwilioConfig   `envconfig:"TWILIO"`
}

type ServerConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	PublicURL       string        `envconfig:"PUBLIC_URL" default:"http://localhost:8080"`
	AudioDir        string        `envconfig:"AUDIO_DIR" default:"audio"`
	FlipAsset       string        `envconfig:"FLIP_ASSET" default:"flip.wav"`
	GatherTimeout   int           `envconfig:"GATHER_TIMEOUT" default:"10"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
}

type LogConfig struct {
	Level      string `envconfig:"LEVEL" default:"info"`
	Format     string `envconfig:"FORMAT" default:"console"`
	Output     string `envconfig:"OUTPUT" default:"stdout"`
	FilePath   string `envconfig:"FILE_PATH" default:"logs/read2me.log"`
	TimeFormat string `envconfig:"TIME_FORMAT" default:"rfc3339"`
}

// LLMConfig selects the chat model used to write story pages
type LLMConfig struct {
	Provider    string        `envconfig:"PROVIDER" default:"openai"`
	Model       string        `envconfig:"MODEL" default:"gemini-2.5-flash"`
	APIKey      string        `envconfig:"API_KEY"`
	BaseURL     string        `envconfig:"BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta/openai/"`
	MaxTokens   int           `envconfig:"MAX_TOKENS" default:"4096"`
	Temperature float64       `envconfig:"TEMPERATURE" default:"0.9"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"2m"`
}

// SpeechConfig configures the multi-speaker text-to-speech service
type SpeechConfig struct {
	APIKey        string        `envconfig:"API_KEY"`
	Model         string        `envconfig:"MODEL" default:"gemini-2.5-flash-preview-tts"`
	IntroModel    string        `envconfig:"INTRO_MODEL" default:"gemini-2.5-pro-preview-tts"`
	MaxRetries    uint64        `envconfig:"MAX_RETRIES" default:"2"`
	RetryInterval time.Duration `envconfig:"RETRY_INTERVAL" default:"2s"`
}

type StoreConfig struct {
	Backend      string `envconfig:"BACKEND" default:"memory"`
	SnapshotPath string `envconfig:"SNAPSHOT_PATH" default:"data/graph.json"`
	RedisURL     string `envconfig:"REDIS_URL"`
	RedisPrefix  string `envconfig:"REDIS_PREFIX" default:"read2me:"`
	RedisBGSave  bool   `envconfig:"REDIS_BGSAVE" default:"false"`
}

type PrefetchConfig struct {
	Workers   int           `envconfig:"WORKERS" default:"5"`
	QueueSize int           `envconfig:"QUEUE_SIZE" default:"50"`
	Pacing    time.Duration `envconfig:"PACING" default:"100ms"`
}

type TwilioConfig struct {
	// AuthToken enables request signature validation when set.
	AuthToken string `envconfig:"AUTH_TOKEN"`
}

// LoadConfig reads the configuration from the environment
func LoadConfig() (*Config, error) {
	var config Config
	err := envconfig.Process("", &config)
	if err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values envconfig cannot express
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("STORE_REDIS_URL is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	if c.Prefetch.Workers < 1 {
		errs = append(errs, fmt.Errorf("PREFETCH_WORKERS must be positive, got %d", c.Prefetch.Workers))
	}
	if c.Prefetch.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("PREFETCH_QUEUE_SIZE must be positive, got %d", c.Prefetch.QueueSize))
	}
	if c.Prefetch.Pacing < 0 {
		errs = append(errs, errors.New("PREFETCH_PACING cannot be negative"))
	}

	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
	if c.Server.PublicURL == "" {
		errs = append(errs, errors.New("SERVER_PUBLIC_URL cannot be empty"))
	}

	return errors.Join(errs...)
}
