package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/intermernet/finishline/internal/auth"
)

// Config holds all configuration for the authority server, loaded from the
// environment.
type Config struct {
	// --- Server & Paths ---
	ServerAddr  string
	DataPath    string
	DbPath      string
	FrontendURL string

	// --- Security ---
	JwtSecret         string
	AdminPasswordHash string
	TokenTTL          time.Duration

	// --- Push channel ---
	BroadcastBuffer   int
	HeartbeatInterval time.Duration

	// Parsed version of FrontendURL, used for CORS.
	ParsedFrontendURL *url.URL
}

// New creates a Config from environment variables. It fails fast when a
// required value is missing or malformed, preventing the server from starting.
func New() (*Config, error) {
	cfg := &Config{
		ServerAddr:        os.Getenv("SERVER_ADDR"),
		DataPath:          os.Getenv("DATA_PATH"),
		FrontendURL:       os.Getenv("FRONTEND_URL"),
		JwtSecret:         os.Getenv("JWT_SECRET"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		TokenTTL:          auth.DefaultTokenTTL,
		BroadcastBuffer:   16,
		HeartbeatInterval: 15 * time.Second,
	}

	// --- Provide sensible defaults for non-critical values ---
	if cfg.DataPath == "" {
		cfg.DataPath = "./data"
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = ":8080"
	}
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = "http://localhost:5173"
	}
	if v := os.Getenv("BROADCAST_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("FATAL: BROADCAST_BUFFER must be a positive integer, got %q", v)
		}
		cfg.BroadcastBuffer = n
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("FATAL: TOKEN_TTL must be a positive duration, got %q", v)
		}
		cfg.TokenTTL = d
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("FATAL: HEARTBEAT_INTERVAL must be a positive duration, got %q", v)
		}
		cfg.HeartbeatInterval = d
	}

	// --- Validate critical required values ---
	if cfg.JwtSecret == "" {
		return nil, errors.New("FATAL: JWT_SECRET environment variable is not set")
	}
	if cfg.AdminPasswordHash == "" {
		return nil, errors.New("FATAL: ADMIN_PASSWORD_HASH environment variable is not set")
	}
	if err := auth.ValidateHash(cfg.AdminPasswordHash); err != nil {
		return nil, fmt.Errorf("FATAL: ADMIN_PASSWORD_HASH is malformed: %w", err)
	}

	// --- Parse and derive necessary fields ---
	parsedURL, err := url.Parse(cfg.FrontendURL)
	if err != nil {
		return nil, errors.New("FATAL: Invalid FRONTEND_URL format")
	}
	cfg.ParsedFrontendURL = parsedURL

	cfg.DbPath = filepath.Join(cfg.DataPath, "finishline.db")

	return cfg, nil
}
