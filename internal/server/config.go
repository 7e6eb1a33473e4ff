// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/linechat/internal/chat"
)

const (
	defaultAddr             = "127.0.0.1:8082"
	defaultMaxLineLength    = 4096
	defaultHandshakeTimeout = 30 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultCloseLinger      = 2 * time.Second
	defaultShutdownTimeout  = 5 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate
// limiting. A Burst of zero disables limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings.
type Config struct {
	// Addr is the TCP address of the line protocol listener.
	Addr string
	// HTTPAddr is the address of the WebSocket gateway. Empty disables it.
	HTTPAddr       string
	AllowedOrigins []string

	HistoryCapacity int
	SendBuffer      int
	MaxDroppedSends int
	MaxLineLength   int

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// CloseLinger bounds how long a closing session waits for the peer to
	// acknowledge the half-close before the socket is dropped.
	CloseLinger     time.Duration
	ShutdownTimeout time.Duration

	RateLimit RateLimitConfig
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

func defaultConfig() Config {
	return Config{
		Addr: defaultAddr,
		AllowedOrigins: []string{
			"http://localhost:8083",
		},
		HistoryCapacity:  chat.DefaultHistoryCapacity,
		SendBuffer:       chat.DefaultSendBuffer,
		MaxDroppedSends:  chat.DefaultMaxDroppedSends,
		MaxLineLength:    defaultMaxLineLength,
		HandshakeTimeout: defaultHandshakeTimeout,
		WriteTimeout:     defaultWriteTimeout,
		CloseLinger:      defaultCloseLinger,
		ShutdownTimeout:  defaultShutdownTimeout,
		RateLimit: RateLimitConfig{
			RefillInterval: time.Second,
		},
	}
}

// Sanitize returns a copy of c with every unset or invalid field replaced by
// its default.
func (c Config) Sanitize() Config {
	def := defaultConfig()

	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = def.HistoryCapacity
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.MaxDroppedSends <= 0 {
		c.MaxDroppedSends = def.MaxDroppedSends
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = def.MaxLineLength
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.CloseLinger <= 0 {
		c.CloseLinger = def.CloseLinger
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.RateLimit.Burst < 0 {
		c.RateLimit.Burst = 0
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)

	return c
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set or invalid.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if addr := os.Getenv("CHAT_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	if httpAddr := os.Getenv("CHAT_HTTP_ADDR"); httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if capacity := os.Getenv("CHAT_HISTORY_CAPACITY"); capacity != "" {
		cfg.HistoryCapacity = parseIntValue(capacity, cfg.HistoryCapacity)
	}

	if buffer := os.Getenv("CHAT_SEND_BUFFER"); buffer != "" {
		cfg.SendBuffer = parseIntValue(buffer, cfg.SendBuffer)
	}

	if dropped := os.Getenv("CHAT_MAX_DROPPED_SENDS"); dropped != "" {
		cfg.MaxDroppedSends = parseIntValue(dropped, cfg.MaxDroppedSends)
	}

	if maxLen := os.Getenv("CHAT_MAX_LINE_LENGTH"); maxLen != "" {
		cfg.MaxLineLength = parseIntValue(maxLen, cfg.MaxLineLength)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts either whole seconds ("2") or a Go duration ("500ms").
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
