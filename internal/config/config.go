package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// ErrMissingCredential is returned when no WRDS username can be found.
var ErrMissingCredential = errors.New("WRDS_USERNAME not set: add it to the environment or a .env file")

// DateLayout is the calendar date format used for the sample window.
const DateLayout = "2006-01-02"

// Config represents the complete application configuration
type Config struct {
	WRDS      WRDSConfig      `yaml:"wrds" envconfig:"WRDS"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
}

// WRDSConfig holds the connection settings for the WRDS PostgreSQL server.
// Username falls back to the bare WRDS_USERNAME variable.
type WRDSConfig struct {
	Username       string        `yaml:"username" envconfig:"WRDS_USERNAME"`
	Password       string        `yaml:"-" envconfig:"WRDS_PASSWORD"`
	Host           string        `yaml:"host" envconfig:"HOST" validate:"required,hostname_rfc1123"`
	Port           int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	Database       string        `yaml:"database" envconfig:"DATABASE" validate:"required"`
	SSLMode        string        `yaml:"sslmode" envconfig:"SSLMODE" validate:"oneof=disable require verify-ca verify-full"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
}

// PipelineConfig controls what is pulled and how the panel is processed.
type PipelineConfig struct {
	Refresh             bool            `yaml:"refresh" envconfig:"REFRESH"`
	UsePredefinedGvkeys bool            `yaml:"use_predefined_gvkeys" envconfig:"USE_PREDEFINED_GVKEYS"`
	GvkeyListFile       string          `yaml:"gvkey_list_file" envconfig:"GVKEY_LIST_FILE"`
	SICFilter           []int           `yaml:"sic_filter" envconfig:"SIC_FILTER"`
	StartDate           string          `yaml:"start_date" envconfig:"START_DATE" validate:"required,datetime=2006-01-02"`
	EndDate             string          `yaml:"end_date" envconfig:"END_DATE" validate:"required,datetime=2006-01-02"`
	CompustatVars       []string        `yaml:"compustat_vars" envconfig:"COMPUSTAT_VARS" validate:"min=1"`
	CRSPVars            []string        `yaml:"crsp_vars" envconfig:"CRSP_VARS" validate:"min=1"`
	CUSIPPrefixLength   int             `yaml:"cusip_prefix_length" envconfig:"CUSIP_PREFIX_LENGTH" validate:"min=6,max=9"`
	SchemaVersion       string          `yaml:"schema_version" envconfig:"SCHEMA_VERSION" validate:"required"`
	OutputName          string          `yaml:"output_name" envconfig:"OUTPUT_NAME" validate:"required"`
	ExcelOutput         bool            `yaml:"excel_output" envconfig:"EXCEL_OUTPUT"`
	CoverageThreshold   float64         `yaml:"coverage_threshold" envconfig:"COVERAGE_THRESHOLD" validate:"gt=0,lt=1"`
	Winsorize           WinsorizeConfig `yaml:"winsorize" envconfig:"WINSORIZE"`
}

// WinsorizeConfig sets the clipping percentiles and extra excluded columns.
type WinsorizeConfig struct {
	Lower   float64  `yaml:"lower" envconfig:"LOWER" validate:"gte=0,lt=1"`
	Upper   float64  `yaml:"upper" envconfig:"UPPER" validate:"gt=0,lte=1,gtfield=Lower"`
	Exclude []string `yaml:"exclude" envconfig:"EXCLUDE"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir     string `yaml:"data_dir" envconfig:"DATA_DIR" validate:"required"`
	LinkingFile string `yaml:"linking_file" envconfig:"LINKING_FILE"`
	LogsDir     string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format     string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output     string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath   string `yaml:"file_path" envconfig:"FILE_PATH"`
	MaxSizeMB  int    `yaml:"max_size_mb" envconfig:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" envconfig:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" envconfig:"MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" envconfig:"COMPRESS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// TelemetryConfig toggles tracing and metrics.
type TelemetryConfig struct {
	ServiceName     string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	EnableTracing   bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	EnableMetrics   bool   `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	TracingEndpoint string `yaml:"tracing_endpoint" envconfig:"TRACING_ENDPOINT"`
}

// StorageConfig configures publishing of the final panel to an S3-compatible bucket.
type StorageConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT" validate:"required_if=Enabled true"`
	AccessKey string `yaml:"-" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"-" envconfig:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" envconfig:"BUCKET" validate:"required_if=Enabled true"`
	Prefix    string `yaml:"prefix" envconfig:"PREFIX"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"USE_SSL"`
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		WRDS: WRDSConfig{
			Host:           "wrds-pgdata.wharton.upenn.edu",
			Port:           9737,
			Database:       "wrds",
			SSLMode:        "require",
			ConnectTimeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			UsePredefinedGvkeys: true,
			StartDate:           "1970-01-01",
			EndDate:             "2024-12-31",
			CompustatVars:       CompustatVars(),
			CRSPVars:            CRSPVars(),
			CUSIPPrefixLength:   8,
			SchemaVersion:       "1",
			OutputName:          "compustat_realestate_cleaned_quarterly",
			CoverageThreshold:   0.25,
			Winsorize: WinsorizeConfig{
				Lower: 0.01,
				Upper: 0.99,
			},
		},
		Paths: PathsConfig{
			DataDir: "data",
			LogsDir: "logs",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "console",
			FilePath:   "logs/wrdspanel.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     10,
				Burst:   20,
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "wrdspanel",
			EnableMetrics: true,
		},
		Storage: StorageConfig{
			Prefix: "wrdspanel",
			UseSSL: true,
		},
	}
}

// Load loads configuration from defaults, an optional YAML file and the environment.
// A .env file in the working directory is read first so WRDS_USERNAME can live there.
func Load(configFile string) (*Config, error) {
	loadDotEnv()

	cfg := Default()

	if configFile == "" {
		configFile = getConfigFilePath()
	}
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Only variables that are actually set override file and default values.
	if err := envconfig.Process("PANEL", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() {
	for _, name := range []string{".env", ".local.env"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("failed to load env file", slog.String("file", name), slog.String("error", err.Error()))
		}
	}
}

// loadFromFile loads configuration from YAML file on top of cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns the first config file that exists, or ""
func getConfigFilePath() string {
	if path := os.Getenv("PANEL_CONFIG_FILE"); path != "" {
		return path
	}
	for _, candidate := range []string{"config.yaml", filepath.Join("configs", "config.yaml")} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return err
	}

	start, end, err := c.Pipeline.Window()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("end_date %s is before start_date %s", c.Pipeline.EndDate, c.Pipeline.StartDate)
	}

	if !c.Pipeline.UsePredefinedGvkeys && len(c.Pipeline.SICFilter) == 0 {
		return errors.New("no firm filter: enable use_predefined_gvkeys or set sic_filter")
	}
	return nil
}

// RequireCredentials fails when no WRDS username is configured.
func (c *Config) RequireCredentials() error {
	if strings.TrimSpace(c.WRDS.Username) == "" {
		return ErrMissingCredential
	}
	return nil
}

// Window parses the configured start and end dates.
func (p PipelineConfig) Window() (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, p.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date: %w", err)
	}
	end, err := time.Parse(DateLayout, p.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date: %w", err)
	}
	return start, end, nil
}

// LogSummary writes the resolved configuration to the logger.
func (c *Config) LogSummary(logger *slog.Logger) {
	mode := "sic_filter"
	if c.Pipeline.UsePredefinedGvkeys {
		mode = "predefined_gvkeys"
	}
	logger.Info("pipeline configuration",
		slog.String("wrds_user", c.WRDS.Username),
		slog.String("start_date", c.Pipeline.StartDate),
		slog.String("end_date", c.Pipeline.EndDate),
		slog.String("firm_filter", mode),
		slog.Any("sic_filter", c.Pipeline.SICFilter),
		slog.Int("compustat_vars", len(c.Pipeline.CompustatVars)),
		slog.Int("crsp_vars", len(c.Pipeline.CRSPVars)),
		slog.Bool("refresh", c.Pipeline.Refresh),
		slog.String("data_dir", c.Paths.DataDir),
	)
}
