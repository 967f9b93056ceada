// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ralphlabs/ralphd/internal/store"
	"github.com/ralphlabs/ralphd/internal/web"
)

// Load reads and parses a configuration from the given YAML file path,
// then applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches standard locations and loads the first config
// found. Search order: ./ralphd.yaml, ~/.ralphd/config.yaml. When none
// exists the built-in defaults are returned.
func LoadDefault() (*Config, error) {
	candidates := []string{"ralphd.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".ralphd", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, nil
}

// LoadEnv loads a .env file when present, then overlays environment
// variables onto cfg. Environment wins over YAML.
func LoadEnv(cfg *Config) {
	_ = godotenv.Load()

	if dsn := os.Getenv("RALPHD_EVENTS_DSN"); dsn != "" {
		cfg.Events.DSN = dsn
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Chat.Token = token
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		cfg.Chat.ChatID = chatID
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = web.DefaultPort
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = store.DefaultPath
	}
}
