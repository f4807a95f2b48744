package core

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/jo-hoe/faceswap/internal/backend/imageio"
	"github.com/jo-hoe/faceswap/internal/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort             = 8000
	defaultUploadDir        = "uploads"
	defaultResultDir        = "results"
	defaultDatabaseType     = "sqlite"
	defaultConnectionString = "faceswap.db"
	defaultInferenceType    = "http"
	defaultInferenceTimeout = 60 * time.Second
	defaultModelPath        = "inswapper/inswapper_128.onnx"
	defaultModelURL         = "https://drive.google.com/uc?id=1HvZ4MAtzlY74Dk4ASGIS9L6Rg5oZdqvu"
	defaultRetentionTTL     = 24 * time.Hour
	defaultRetentionPeriod  = 10 * time.Minute
	defaultEventsTopic      = "faceswap-results"
	defaultMaxUploadSize    = "20M"
	defaultJPEGQuality      = 95
	defaultMaxImagePixels   = imageio.DefaultMaxPixels
	defaultLogLevel         = "info"
)

type Storage struct {
	UploadDir string `yaml:"uploadDir" env:"UPLOAD_DIR"`
	ResultDir string `yaml:"resultDir" env:"RESULT_DIR"`
}

type Database struct {
	Type             string `yaml:"type" env:"TYPE" validate:"omitempty,oneof=sqlite redis postgres"`
	ConnectionString string `yaml:"connectionString" env:"CONNECTION_STRING"`
}

type Inference struct {
	Type    string        `yaml:"type" env:"TYPE" validate:"omitempty,oneof=http"`
	BaseURL string        `yaml:"baseURL" env:"BASE_URL" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type Model struct {
	Path   string `yaml:"path" env:"PATH"`
	URL    string `yaml:"url" env:"URL" validate:"omitempty,url"`
	SHA256 string `yaml:"sha256" env:"SHA256" validate:"omitempty,len=64,hexadecimal"`
	// SkipFetch disables the startup download, e.g. when the provider bundles the model.
	SkipFetch bool `yaml:"skipFetch" env:"SKIP_FETCH"`
}

// Retention controls pruning of uploads and results. A zero (or omitted) TTL
// or Interval means the default of 24h and 10m respectively; zero never
// means "keep forever", use Disabled for that.
type Retention struct {
	// Disabled keeps uploads and results forever.
	Disabled bool          `yaml:"disabled" env:"DISABLED"`
	TTL      time.Duration `yaml:"ttl" env:"TTL" validate:"min=0"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL" validate:"min=0"`
}

// EffectiveTTL is zero when retention is disabled.
func (r Retention) EffectiveTTL() time.Duration {
	if r.Disabled {
		return 0
	}
	return r.TTL
}

type Events struct {
	Brokers []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"TOPIC"`
}

type ServiceConfig struct {
	Port           int       `yaml:"port" env:"PORT" validate:"min=0,max=65535"`
	LogLevel       string    `yaml:"logLevel" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	MaxUploadSize  string    `yaml:"maxUploadSize" env:"MAX_UPLOAD_SIZE"`
	JPEGQuality    int       `yaml:"jpegQuality" env:"JPEG_QUALITY" validate:"min=1,max=100"`
	// MaxImagePixels bounds width*height of uploaded images; checked before decoding.
	MaxImagePixels int       `yaml:"maxImagePixels" env:"MAX_IMAGE_PIXELS" validate:"min=0"`
	Storage        Storage   `yaml:"storage" envPrefix:"STORAGE_"`
	Database       Database  `yaml:"database" envPrefix:"DATABASE_"`
	Inference      Inference `yaml:"inference" envPrefix:"INFERENCE_"`
	Model          Model     `yaml:"model" envPrefix:"MODEL_"`
	Retention      Retention `yaml:"retention" envPrefix:"RETENTION_"`
	Events         Events    `yaml:"events" envPrefix:"EVENTS_"`
}

const envPrefix = "FACESWAP_"

// LoadConfig loads configuration from the specified YAML file, applies
// FACESWAP_* environment overrides (a .env file is honored) and validates it.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	var config ServiceConfig

	// .env is optional and may carry the settings that make the file optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	case os.IsNotExist(err) && os.Getenv(envPrefix+"INFERENCE_BASE_URL") != "":
		// environment-only configuration
		slog.Info("config file not found, using environment", "path", configPath)
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := applyEnvironment(&config); err != nil {
		return nil, err
	}
	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func applyEnvironment(config *ServiceConfig) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

func applyDefaults(config *ServiceConfig) {
	if config.Port == 0 {
		config.Port = defaultPort
	}
	if config.LogLevel == "" {
		config.LogLevel = defaultLogLevel
	}
	if config.MaxUploadSize == "" {
		config.MaxUploadSize = defaultMaxUploadSize
	}
	if config.JPEGQuality == 0 {
		config.JPEGQuality = defaultJPEGQuality
	}
	if config.MaxImagePixels == 0 {
		config.MaxImagePixels = defaultMaxImagePixels
	}
	if config.Storage.UploadDir == "" {
		config.Storage.UploadDir = defaultUploadDir
	}
	if config.Storage.ResultDir == "" {
		config.Storage.ResultDir = defaultResultDir
	}
	if config.Database.Type == "" {
		config.Database.Type = defaultDatabaseType
	}
	if config.Database.ConnectionString == "" && config.Database.Type == defaultDatabaseType {
		config.Database.ConnectionString = defaultConnectionString
	}
	if config.Inference.Type == "" {
		config.Inference.Type = defaultInferenceType
	}
	if config.Inference.Timeout == 0 {
		config.Inference.Timeout = defaultInferenceTimeout
	}
	if config.Model.Path == "" {
		config.Model.Path = defaultModelPath
		if config.Model.URL == "" {
			config.Model.URL = defaultModelURL
		}
	}
	if config.Retention.TTL == 0 {
		config.Retention.TTL = defaultRetentionTTL
	}
	if config.Retention.Interval == 0 {
		config.Retention.Interval = defaultRetentionPeriod
	}
	if config.Events.Topic == "" {
		config.Events.Topic = defaultEventsTopic
	}
}

func validateConfig(config *ServiceConfig) error {
	if err := common.ValidateStruct(config); err != nil {
		return err
	}
	if config.Database.Type != defaultDatabaseType && config.Database.ConnectionString == "" {
		return fmt.Errorf("database type %s requires a connection string", config.Database.Type)
	}
	return nil
}

// SlogLevel maps the configured log level onto slog.
func (c *ServiceConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
