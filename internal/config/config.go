// Package config handles loading and validating configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// ServerAddr is the HTTP listen address.
	ServerAddr string
	// APIToken, when set, is required as a bearer token on /api routes.
	APIToken string
	// DBPath is the SQLite database file.
	DBPath string
	// EnvFile is the .env file re-read by ReloadEngineSettings.
	EnvFile string
	// EngineArgs are passed to the engine before the prompt is written.
	EngineArgs []string
	// TelemetryPortMin and TelemetryPortMax bound the receiver's candidate ports.
	TelemetryPortMin int
	TelemetryPortMax int
	// TelemetryPortAttempts is the number of candidate ports tried per start.
	TelemetryPortAttempts int
	// TelemetryServiceName is reported by the engine's telemetry.
	TelemetryServiceName string
	// GenerationMaxDuration bounds one engine run.
	GenerationMaxDuration time.Duration
	// CORSOrigins lists allowed browser origins for the API.
	CORSOrigins []string

	mu         sync.RWMutex
	enginePath string
}

// Load reads configuration from environment variables.
// It loads .env file if present, but environment variables take precedence.
func Load() (*Config, error) {
	envFile := os.Getenv("PRP_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load(envFile)

	cfg := &Config{
		ServerAddr:            strings.TrimSpace(os.Getenv("SERVER_ADDR")),
		APIToken:              os.Getenv("PRP_API_TOKEN"),
		DBPath:                strings.TrimSpace(os.Getenv("PRP_DB_PATH")),
		EnvFile:               envFile,
		EngineArgs:            parseCSV(os.Getenv("PRP_ENGINE_ARGS")),
		TelemetryPortMin:      parseIntEnv("TELEMETRY_PORT_MIN", 40000),
		TelemetryPortMax:      parseIntEnv("TELEMETRY_PORT_MAX", 50000),
		TelemetryPortAttempts: parseIntEnv("TELEMETRY_PORT_ATTEMPTS", 5),
		TelemetryServiceName:  strings.TrimSpace(os.Getenv("TELEMETRY_SERVICE_NAME")),
		GenerationMaxDuration: parseDurationEnv("GENERATION_MAX_DURATION", 30*time.Minute),
		CORSOrigins:           parseCSV(os.Getenv("CORS_ORIGINS")),
		enginePath:            strings.TrimSpace(os.Getenv("PRP_ENGINE_PATH")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate fills defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		c.ServerAddr = "127.0.0.1:8080"
	}
	if c.DBPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("PRP_DB_PATH is required: %w", err)
		}
		c.DBPath = filepath.Join(dir, "prp-generator", "prpgen.db")
	}
	if len(c.EngineArgs) == 0 {
		c.EngineArgs = []string{"--print", "--verbose"}
	}
	if c.TelemetryPortMin > 65535 || c.TelemetryPortMax > 65536 {
		return errors.New("telemetry port range exceeds 65535")
	}
	if c.TelemetryPortMin >= c.TelemetryPortMax {
		return errors.New("TELEMETRY_PORT_MIN must be below TELEMETRY_PORT_MAX")
	}
	if c.TelemetryServiceName == "" {
		c.TelemetryServiceName = "prp-generator"
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"http://localhost:*", "http://127.0.0.1:*", "tauri://localhost"}
	}
	// APIToken is optional - the API is unauthenticated on loopback without it
	return nil
}

// EnginePath returns the configured engine override, or "" to auto-detect.
func (c *Config) EnginePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enginePath
}

// SetEnginePath replaces the engine override.
func (c *Config) SetEnginePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enginePath = strings.TrimSpace(path)
}

// ReloadEngineSettings re-reads the engine override from the .env file so a
// saved path applies to the next generation.
func (c *Config) ReloadEngineSettings() error {
	if err := godotenv.Overload(c.EnvFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	c.SetEnginePath(os.Getenv("PRP_ENGINE_PATH"))
	return nil
}

// SaveEnginePath writes the engine override to the .env file and applies it.
// An empty path removes the override.
func (c *Config) SaveEnginePath(path string) error {
	values, err := godotenv.Read(c.EnvFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		values = map[string]string{}
	}
	path = strings.TrimSpace(path)
	if path == "" {
		delete(values, "PRP_ENGINE_PATH")
		os.Unsetenv("PRP_ENGINE_PATH")
	} else {
		values["PRP_ENGINE_PATH"] = path
	}
	if dir := filepath.Dir(c.EnvFile); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := godotenv.Write(values, c.EnvFile); err != nil {
		return err
	}
	return c.ReloadEngineSettings()
}

func parseCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseIntEnv(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}
