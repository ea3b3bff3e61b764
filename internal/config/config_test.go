package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoadDefaults tests that an empty environment yields Default()
func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 10*time.Second, cfg.Store.Timeout)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 9090, cfg.Telemetry.AdminPort)
	assert.True(t, cfg.Sheets.HeaderRow)
}

// TestLoadFromEnvironment tests prefixed environment variables
func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("KEYBIND_SERVER_PORT", "3000")
	t.Setenv("KEYBIND_STORE_BACKEND", "SQL")
	t.Setenv("KEYBIND_STORE_TIMEOUT", "3s")
	t.Setenv("KEYBIND_SQL_DRIVER", "postgres")
	t.Setenv("KEYBIND_SQL_DSN", "postgres://keybind@localhost/keybind")
	t.Setenv("KEYBIND_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("KEYBIND_STORE_SEED_KEYS", "ABC-123,DEF-456")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, ":3000", cfg.Server.Addr())
	assert.Equal(t, BackendSQL, cfg.Store.Backend)
	assert.Equal(t, 3*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "postgres", cfg.SQL.Driver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, []string{"ABC-123", "DEF-456"}, cfg.Store.SeedKeys)
}

// TestLoadFilePrecedence tests defaults < file < environment
func TestLoadFilePrecedence(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 7000
  request_timeout: 5s
store:
  backend: xlsx
  timeout: 2s
workbook:
  path: /var/lib/keybind/keys.xlsx
logging:
  level: debug
`)
	t.Setenv("KEYBIND_SERVER_PORT", "7100")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7100, cfg.Server.Port, "environment wins over file")
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout, "file wins over default")
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "default kept when file is silent")
	assert.Equal(t, BackendWorkbook, cfg.Store.Backend)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "/var/lib/keybind/keys.xlsx", cfg.Workbook.Path)
	assert.Equal(t, "Sheet1", cfg.Workbook.Sheet)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigFileFromEnvironment(t *testing.T) {
	path := writeFile(t, "keybind.yaml", "server:\n  port: 7200\n")
	t.Setenv("KEYBIND_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7200, cfg.Server.Port)
}

func TestLoadInvalidFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "server: [not, a, map")
	_, err := LoadFile(path)
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestSheetsCredentialsFallback tests the bare GOOGLE_SERVICE_ACCOUNT_KEY variable
func TestSheetsCredentialsFallback(t *testing.T) {
	t.Setenv("KEYBIND_STORE_BACKEND", "sheets")
	t.Setenv("KEYBIND_SHEETS_SPREADSHEET_ID", "sheet-123")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_KEY", `{"type":"service_account"}`)

	cfg, err := LoadFile("")
	require.NoError(t, err)

	creds, err := cfg.Sheets.Credentials()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"service_account"}`, string(creds))
}

func TestSheetsCredentialsFromFile(t *testing.T) {
	path := writeFile(t, "sa.json", `{"type":"service_account","project_id":"p"}`)
	s := SheetsConfig{CredentialsFile: path}

	creds, err := s.Credentials()
	require.NoError(t, err)
	assert.Contains(t, string(creds), "project_id")

	_, err = SheetsConfig{}.Credentials()
	assert.Error(t, err)

	_, err = SheetsConfig{CredentialsFile: filepath.Join(t.TempDir(), "none.json")}.Credentials()
	assert.Error(t, err)
}

// TestValidate tests configuration validation
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "non-positive store timeout",
			mutate:  func(c *Config) { c.Store.Timeout = 0 },
			wantErr: "store timeout",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Store.Backend = "mongo" },
			wantErr: "unknown store backend",
		},
		{
			name: "sheets without credentials",
			mutate: func(c *Config) {
				c.Store.Backend = BackendSheets
				c.Sheets.SpreadsheetID = "sheet-123"
			},
			wantErr: "GOOGLE_SERVICE_ACCOUNT_KEY",
		},
		{
			name: "sheets without spreadsheet",
			mutate: func(c *Config) {
				c.Store.Backend = BackendSheets
				c.Sheets.CredentialsJSON = "{}"
			},
			wantErr: "spreadsheet id",
		},
		{
			name: "sql with unknown driver",
			mutate: func(c *Config) {
				c.Store.Backend = BackendSQL
				c.SQL.Driver = "mysql"
			},
			wantErr: "unsupported sql driver",
		},
		{
			name: "redis without address",
			mutate: func(c *Config) {
				c.Store.Backend = BackendRedis
				c.Redis.Addr = ""
			},
			wantErr: "redis backend requires an address",
		},
		{
			name:    "no cors origins",
			mutate:  func(c *Config) { c.CORS.AllowedOrigins = nil },
			wantErr: "allowed origin",
		},
		{
			name:    "bad logging output",
			mutate:  func(c *Config) { c.Logging.Output = "syslog" },
			wantErr: "invalid logging output",
		},
		{
			name:    "unsupported trace exporter",
			mutate:  func(c *Config) { c.Telemetry.TraceExporter = "zipkin" },
			wantErr: "unsupported trace exporter",
		},
		{
			name:    "admin port collides",
			mutate:  func(c *Config) { c.Telemetry.AdminPort = c.Server.Port },
			wantErr: "admin port must differ",
		},
		{
			name:   "admin listener disabled",
			mutate: func(c *Config) { c.Telemetry.AdminPort = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			cfg.normalize()

			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateForcesJSONFormat(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "text"
	require.NoError(t, cfg.validate())
	assert.Equal(t, "json", cfg.Logging.Format)
}
