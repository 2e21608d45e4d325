package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = 8888
	defaultReadBuffer      = 1024
	defaultBacklog         = 64
	defaultAcceptBurst     = 1
	defaultShutdownTimeout = 20 * time.Second
	defaultStaticDir       = "static"
)

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            defaultPort,
			ReadBuffer:      defaultReadBuffer,
			Backlog:         defaultBacklog,
			AcceptBurst:     defaultAcceptBurst,
			ShutdownTimeout: Duration(defaultShutdownTimeout),
			BinaryDetection: "tagged",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Demo:    DemoConfig{StaticDir: defaultStaticDir},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is
// not an error; found reports whether it existed.
func Load(path string) (cfg *Config, found bool, err error) {
	cfg = Default()
	if path == "" {
		return cfg, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, false, nil
		}
		return nil, false, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, true, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, true, nil
}

// Parse decodes YAML data into cfg. Keys absent from data keep their
// current values.
func Parse(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}

// Addr returns the bridge listen address as host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// SetAddr splits a host:port override into address and port.
func (c *Config) SetAddr(addr string) error {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	c.Server.Address = h
	c.Server.Port = port
	return nil
}
