package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable.
const EnvPrefix = "KEYBIND"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSheets   = "sheets"
	BackendWorkbook = "xlsx"
	BackendSQL      = "sql"
	BackendRedis    = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Sheets    SheetsConfig    `yaml:"sheets" envconfig:"SHEETS"`
	Workbook  WorkbookConfig  `yaml:"workbook" envconfig:"WORKBOOK"`
	SQL       SQLConfig       `yaml:"sql" envconfig:"SQL"`
	Redis     RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	CORS      CORSConfig      `yaml:"cors" envconfig:"CORS"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"BIND_HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	// RequestTimeout bounds one activation end to end.
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig selects the binding store.
type StoreConfig struct {
	Backend string `yaml:"backend" envconfig:"BACKEND"`
	// Timeout bounds each store call.
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	// SeedKeys are provisioned unbound at startup by the memory backend.
	SeedKeys []string `yaml:"seed_keys" envconfig:"SEED_KEYS"`
}

// SheetsConfig locates the Google Sheets binding table.
type SheetsConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id" envconfig:"SPREADSHEET_ID"`
	SheetName     string `yaml:"sheet_name" envconfig:"SHEET_NAME"`
	HeaderRow     bool   `yaml:"header_row" envconfig:"HEADER_ROW"`
	// CredentialsJSON is the service-account key itself. It also reads
	// GOOGLE_SERVICE_ACCOUNT_KEY.
	CredentialsJSON string `yaml:"credentials_json" envconfig:"GOOGLE_SERVICE_ACCOUNT_KEY"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
}

// Credentials returns the service-account JSON, preferring the inline value.
func (s SheetsConfig) Credentials() ([]byte, error) {
	if s.CredentialsJSON != "" {
		return []byte(s.CredentialsJSON), nil
	}
	if s.CredentialsFile == "" {
		return nil, errors.New("no sheets credentials configured")
	}
	data, err := os.ReadFile(s.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheets credentials: %w", err)
	}
	return data, nil
}

// WorkbookConfig locates the local .xlsx binding table.
type WorkbookConfig struct {
	Path  string `yaml:"path" envconfig:"FILE"`
	Sheet string `yaml:"sheet" envconfig:"SHEET"`
}

// SQLConfig contains database configuration
type SQLConfig struct {
	Driver      string `yaml:"driver" envconfig:"DRIVER"`
	DSN         string `yaml:"dsn" envconfig:"DSN"`
	AutoMigrate bool   `yaml:"auto_migrate" envconfig:"AUTO_MIGRATE"`
	LogSQL      bool   `yaml:"log_sql" envconfig:"LOG_SQL"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"ADDR"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB_INDEX"`
	Prefix   string `yaml:"prefix" envconfig:"PREFIX"`
}

// CORSConfig contains cross-origin configuration for the public API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedHeaders []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	MaxAge         int      `yaml:"max_age" envconfig:"MAX_AGE"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig contains OpenTelemetry and admin listener configuration
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
	MetricsEnabled bool    `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	// AdminPort serves /metrics and /healthz. Zero disables the listener.
	AdminPort int `yaml:"admin_port" envconfig:"ADMIN_PORT"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			MaxBodyBytes:    64 << 10,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  15 * time.Second,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Timeout: 10 * time.Second,
		},
		Sheets: SheetsConfig{
			SheetName: "Sheet1",
			HeaderRow: true,
		},
		Workbook: WorkbookConfig{
			Path:  "data/bindings.xlsx",
			Sheet: "Sheet1",
		},
		SQL: SQLConfig{
			Driver:      "sqlite",
			DSN:         "data/bindings.db",
			AutoMigrate: true,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "keybind:key",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/keybind.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "keybind",
			Environment:    "development",
			TraceExporter:  "none",
			SampleRatio:    1.0,
			MetricsEnabled: true,
			AdminPort:      9090,
		},
	}
}

// Load loads configuration from defaults, the config file if one is found,
// and environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFile(getConfigFilePath())
}

// LoadFile is Load with an explicit config file. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Only variables that are set are applied; unset fields keep file or
	// default values.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile unmarshals the YAML file at filePath over cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.SQL.Driver = strings.ToLower(strings.TrimSpace(c.SQL.Driver))
	c.Logging.Output = strings.ToLower(c.Logging.Output)
	c.Telemetry.TraceExporter = strings.ToLower(c.Telemetry.TraceExporter)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server request timeout must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max body bytes must be positive")
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSheets:
		if c.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("sheets backend requires a spreadsheet id")
		}
		if c.Sheets.SheetName == "" {
			return fmt.Errorf("sheets backend requires a sheet name")
		}
		if c.Sheets.CredentialsJSON == "" && c.Sheets.CredentialsFile == "" {
			return fmt.Errorf("sheets backend requires GOOGLE_SERVICE_ACCOUNT_KEY or a credentials file")
		}
	case BackendWorkbook:
		if c.Workbook.Path == "" {
			return fmt.Errorf("xlsx backend requires a workbook path")
		}
	case BackendSQL:
		if c.SQL.Driver != "postgres" && c.SQL.Driver != "sqlite" {
			return fmt.Errorf("unsupported sql driver: %q", c.SQL.Driver)
		}
		if c.SQL.DSN == "" {
			return fmt.Errorf("sql backend requires a dsn")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis backend requires an address")
		}
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if len(c.CORS.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output: %q", c.Logging.Output)
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging to file requires a file path")
	}
	c.Logging.Format = "json"

	switch c.Telemetry.TraceExporter {
	case "stdout", "none":
	default:
		return fmt.Errorf("unsupported trace exporter: %q", c.Telemetry.TraceExporter)
	}
	if c.Telemetry.AdminPort < 0 || c.Telemetry.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.Telemetry.AdminPort)
	}
	if c.Telemetry.AdminPort == c.Server.Port {
		return fmt.Errorf("admin port must differ from server port %d", c.Server.Port)
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}
