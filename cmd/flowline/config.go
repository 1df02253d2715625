package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all flowline server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath       string `json:"db_path"`
	MemoryStore  bool   `json:"memory_store"`
	LogLevel     string `json:"log_level"`
	ProviderURL  string `json:"provider_url"`
	ProviderKey  string `json:"provider_key"`
	AgentWaitSec int    `json:"agent_wait_sec"`
}

func defaultConfig() Config {
	return Config{
		DBPath:       "file:" + filepath.Join(flowlineDir(), "flowline.db"),
		LogLevel:     "info",
		ProviderURL:  "https://api.openai.com/v1",
		AgentWaitSec: 60,
	}
}

func flowlineDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowline"
	}
	return filepath.Join(home, ".flowline")
}

func settingsPath() string {
	return filepath.Join(flowlineDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWLINE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWLINE_MEMORY_STORE"); v != "" {
		cfg.MemoryStore = v == "true" || v == "1"
	}
	if v := os.Getenv("FLOWLINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWLINE_PROVIDER_URL"); v != "" {
		cfg.ProviderURL = v
	}
	if v := os.Getenv("FLOWLINE_PROVIDER_KEY"); v != "" {
		cfg.ProviderKey = v
	}
	if v := os.Getenv("FLOWLINE_AGENT_WAIT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AgentWaitSec = n
		}
	}

	return cfg
}

func (c Config) agentWait() time.Duration {
	return time.Duration(c.AgentWaitSec) * time.Second
}
