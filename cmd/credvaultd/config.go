package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all credvaultd server configuration.
// Priority: env vars > settings.json > defaults.
//
// The application secret and the operator fallback token are env-only on
// purpose: they must never land in a settings file on disk.
type Config struct {
	ListenAddr    string `json:"listen_addr"`
	DBPath        string `json:"db_path"`
	LogLevel      string `json:"log_level"`
	Production    bool   `json:"production"`
	Iterations    int    `json:"pbkdf2_iterations"`
	SweepSchedule string `json:"sweep_schedule"`

	AppSecret     string `json:"-"`
	FallbackToken string `json:"-"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:    ":4200",
		DBPath:        filepath.Join(credvaultDir(), "credvault.db"),
		LogLevel:      "info",
		SweepSchedule: "*/15 * * * *",
	}
}

func credvaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".credvault"
	}
	return filepath.Join(home, ".credvault")
}

func settingsPath() string {
	return filepath.Join(credvaultDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CREDVAULT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CREDVAULT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CREDVAULT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CREDVAULT_PRODUCTION"); v != "" {
		cfg.Production = v == "true" || v == "1"
	}
	if v := os.Getenv("CREDVAULT_PBKDF2_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Iterations = n
		}
	}
	if v := os.Getenv("CREDVAULT_SWEEP_SCHEDULE"); v != "" {
		cfg.SweepSchedule = v
	}

	// Secrets come from the environment only.
	cfg.AppSecret = os.Getenv("CREDVAULT_APP_SECRET")
	cfg.FallbackToken = os.Getenv("CREDVAULT_FALLBACK_TOKEN")

	return cfg
}
