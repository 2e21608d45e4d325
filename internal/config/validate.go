package config

import (
	"fmt"
	"strings"

	"dqx0.com/go/appbridge/bridge"
)

// Validate fails fast on settings the server cannot start with.
func (c *Config) Validate() error {
	s := c.Server
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", s.Port)
	}
	if s.ReadBuffer <= 0 {
		return fmt.Errorf("server.read_buffer must be positive, got %d", s.ReadBuffer)
	}
	if s.MaxHandlers < 0 {
		return fmt.Errorf("server.max_handlers must not be negative")
	}
	if s.Backlog < 0 {
		return fmt.Errorf("server.backlog must not be negative")
	}
	if s.AcceptRPS < 0 || s.AcceptBurst < 0 {
		return fmt.Errorf("server.accept_rps and server.accept_burst must not be negative")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}
	if _, err := bridge.ParseBinaryDetection(s.BinaryDetection); err != nil {
		return fmt.Errorf("server.binary_detection: %w", err)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}
	return nil
}
