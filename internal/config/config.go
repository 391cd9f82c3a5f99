package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL      string
	Port             string
	JWTSecret        string
	CountryCode      string
	WhatsAppLinkBase string
	SessionTTL       time.Duration
	OTPTTL           time.Duration
	DevMode          bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:             "8080", // default port
		CountryCode:      "255",
		WhatsAppLinkBase: "https://wa.me",
		SessionTTL:       24 * time.Hour,
		OTPTTL:           10 * time.Minute,
	}

	// Load DATABASE_URL and log connection details (password masked)
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	if u, err := url.Parse(databaseURL); err == nil {
		host := u.Hostname()
		if host == "" {
			host = "localhost"
		}
		port := u.Port()
		if port == "" {
			port = "5432"
		}
		dbName := strings.TrimPrefix(u.Path, "/")
		if idx := strings.Index(dbName, "?"); idx >= 0 {
			dbName = dbName[:idx]
		}
		user := u.User.Username()
		if user == "" {
			user = "(none)"
		}
		log.Printf("DB connect: host=%s port=%s db=%s user=%s", host, port, dbName, user)
	}

	// Load PORT (optional, defaults to 8080)
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// Load JWT_SECRET (required, verifies staff bearer tokens)
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	// Load COUNTRY_CODE (optional, defaults to 255)
	if cc := os.Getenv("COUNTRY_CODE"); cc != "" {
		cfg.CountryCode = strings.TrimPrefix(cc, "+")
	}

	// Load WHATSAPP_LINK_BASE (optional)
	if base := os.Getenv("WHATSAPP_LINK_BASE"); base != "" {
		cfg.WhatsAppLinkBase = strings.TrimSuffix(base, "/")
	}

	// Load SESSION_TTL / OTP_TTL overrides (optional, Go duration strings)
	if ttl := os.Getenv("SESSION_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = d
	}
	if ttl := os.Getenv("OTP_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid OTP_TTL: %w", err)
		}
		cfg.OTPTTL = d
	}

	// Load DEV_MODE (optional, defaults to false). Gates the OTP echo in
	// start_otp responses; must never be set in production.
	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	return cfg, nil
}
