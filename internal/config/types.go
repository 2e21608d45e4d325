package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Admin   AdminConfig   `yaml:"admin"`
	Demo    DemoConfig    `yaml:"demo"`
	// App names the application to serve as "module:callable".
	App string `yaml:"app"`
}

// ServerConfig holds the bridge listener settings.
type ServerConfig struct {
	Address         string    `yaml:"address"`
	Port            int       `yaml:"port"`
	Name            string    `yaml:"name"`
	Ident           string    `yaml:"ident"`
	Date            string    `yaml:"date"`
	ReadBuffer      SizeBytes `yaml:"read_buffer"`
	MaxHandlers     int       `yaml:"max_handlers"`
	Backlog         int       `yaml:"backlog"`
	AcceptRPS       float64   `yaml:"accept_rps"`
	AcceptBurst     int       `yaml:"accept_burst"`
	ShutdownTimeout Duration  `yaml:"shutdown_timeout"`
	BinaryDetection string    `yaml:"binary_detection"` // tagged | sniff
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// AdminConfig holds the health and metrics listener. An empty address
// disables it.
type AdminConfig struct {
	Address string `yaml:"address"`
}

// DemoConfig configures the bundled demo application.
type DemoConfig struct {
	StaticDir string `yaml:"static_dir"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "1 KiB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int() int { return int(s) }

// ParseSize parses "1024", "1 KiB" or "4KB".
func ParseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// ParseDuration parses a Go duration or a number of seconds.
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
