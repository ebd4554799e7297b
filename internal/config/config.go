package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	CollabBaseURL  string        `mapstructure:"COLLAB_BASE_URL"`
	CollabWSURL    string        `mapstructure:"COLLAB_WS_URL"`
	CollabAPIToken string        `mapstructure:"COLLAB_API_TOKEN"`
	PollInterval   time.Duration `mapstructure:"POLL_INTERVAL"`
	HTTPTimeout    time.Duration `mapstructure:"HTTP_TIMEOUT"`
	AlertTTL       time.Duration `mapstructure:"ALERT_TTL"`
	SurgeThreshold int           `mapstructure:"SURGE_THRESHOLD"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads configuration from the given env file (missing is fine)
// merged with process environment variables.
func LoadFile(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("POLL_INTERVAL", "3s")
	v.SetDefault("HTTP_TIMEOUT", "10s")
	v.SetDefault("ALERT_TTL", "10s")
	v.SetDefault("SURGE_THRESHOLD", 70)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("COLLAB_BASE_URL")
	v.BindEnv("COLLAB_WS_URL")
	v.BindEnv("COLLAB_API_TOKEN")
	v.BindEnv("POLL_INTERVAL")
	v.BindEnv("HTTP_TIMEOUT")
	v.BindEnv("ALERT_TTL")
	v.BindEnv("SURGE_THRESHOLD")
	v.BindEnv("CORS_ORIGINS")

	// Try reading the env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.CollabBaseURL == "" {
		return nil, fmt.Errorf("COLLAB_BASE_URL is required")
	}
	cfg.CollabBaseURL = strings.TrimRight(cfg.CollabBaseURL, "/")

	if cfg.CollabWSURL == "" {
		cfg.CollabWSURL = deriveWSURL(cfg.CollabBaseURL)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run with: the polling
// cadence stays within the 2-5s band the collaborator is provisioned for,
// and the surge threshold stays on the 0-100 score scale.
func (c *Config) Validate() error {
	if c.PollInterval < 2*time.Second || c.PollInterval > 5*time.Second {
		return fmt.Errorf("POLL_INTERVAL must be between 2s and 5s, got %s", c.PollInterval)
	}
	if c.SurgeThreshold < 1 || c.SurgeThreshold > 100 {
		return fmt.Errorf("SURGE_THRESHOLD must be between 1 and 100, got %d", c.SurgeThreshold)
	}
	if c.AlertTTL <= 0 {
		return fmt.Errorf("ALERT_TTL must be positive, got %s", c.AlertTTL)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}
	return nil
}

// deriveWSURL maps the collaborator's HTTP base URL onto its vitals stream
// endpoint: http -> ws, https -> wss, path /ws/vitals.
func deriveWSURL(baseURL string) string {
	ws := baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/ws/vitals"
}
