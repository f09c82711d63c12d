package config

import (
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	BackendHTTP  = "http"
	BackendS3    = "s3"
	BackendMinio = "minio"
	BackendSim   = "sim"
)

type Config struct {
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	Concurrency int    `env:"MAX_CONCURRENT_UPLOADS" envDefault:"3"`
	Backend     string `env:"TRANSFER_BACKEND" envDefault:"http"`

	APIBaseURL    string `env:"API_BASE_URL" envDefault:"http://localhost:8000"`
	APIUploadPath string `env:"API_UPLOAD_PATH" envDefault:"/api/v1/documents/create"`

	S3Bucket    string `env:"S3_BUCKET"`
	S3Prefix    string `env:"S3_PREFIX"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3PathStyle bool   `env:"S3_PATH_STYLE"`

	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET"`
	MinioPrefix    string `env:"MINIO_PREFIX"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL"`

	SimDuration time.Duration `env:"SIM_DURATION" envDefault:"2s"`
	SimFailRate float64       `env:"SIM_FAIL_RATE" envDefault:"0"`

	// RedisAddr left empty disables the Redis mirror.
	RedisAddr string `env:"REDIS_ADDR"`
	RedisPass string `env:"REDIS_PASSWORD"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	SpoolDir       string `env:"SPOOL_DIR" envDefault:"/tmp/uploadqueue"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"104857600"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return errors.Errorf("MAX_CONCURRENT_UPLOADS must be at least 1, got %d", c.Concurrency)
	}
	if c.MaxUploadBytes < 1 {
		return errors.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.SimFailRate < 0 || c.SimFailRate > 1 {
		return errors.Errorf("SIM_FAIL_RATE must be within [0,1], got %v", c.SimFailRate)
	}

	switch c.Backend {
	case BackendHTTP:
		if c.APIBaseURL == "" {
			return errors.New("API_BASE_URL is required for the http backend")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 backend")
		}
	case BackendMinio:
		if c.MinioEndpoint == "" || c.MinioBucket == "" {
			return errors.New("MINIO_ENDPOINT and MINIO_BUCKET are required for the minio backend")
		}
	case BackendSim:
	default:
		return errors.Errorf("unknown TRANSFER_BACKEND %q", c.Backend)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "LOG_LEVEL")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return errors.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// SetupLogging applies the level and format to the standard logrus logger.
func (c *Config) SetupLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
