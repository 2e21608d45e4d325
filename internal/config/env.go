package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "APPBRIDGE_"

type envSetter func(c *Config, v string) error

var envKeys = map[string]envSetter{
	"ADDR": func(c *Config, v string) error { return c.SetAddr(v) },
	"SERVER_ADDRESS": func(c *Config, v string) error {
		c.Server.Address = v
		return nil
	},
	"SERVER_PORT": intSetter(func(c *Config) *int { return &c.Server.Port }),
	"SERVER_NAME": func(c *Config, v string) error {
		c.Server.Name = v
		return nil
	},
	"SERVER_IDENT": func(c *Config, v string) error {
		c.Server.Ident = v
		return nil
	},
	"SERVER_DATE": func(c *Config, v string) error {
		c.Server.Date = v
		return nil
	},
	"READ_BUFFER": func(c *Config, v string) error {
		n, err := ParseSize(v)
		if err != nil {
			return err
		}
		c.Server.ReadBuffer = n
		return nil
	},
	"MAX_HANDLERS": intSetter(func(c *Config) *int { return &c.Server.MaxHandlers }),
	"BACKLOG":      intSetter(func(c *Config) *int { return &c.Server.Backlog }),
	"ACCEPT_RPS": func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.Server.AcceptRPS = f
		return nil
	},
	"ACCEPT_BURST": intSetter(func(c *Config) *int { return &c.Server.AcceptBurst }),
	"SHUTDOWN_TIMEOUT": func(c *Config, v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		c.Server.ShutdownTimeout = d
		return nil
	},
	"BINARY_DETECTION": func(c *Config, v string) error {
		c.Server.BinaryDetection = strings.ToLower(v)
		return nil
	},
	"LOG_LEVEL": func(c *Config, v string) error {
		c.Logging.Level = v
		return nil
	},
	"LOG_FORMAT": func(c *Config, v string) error {
		c.Logging.Format = strings.ToLower(v)
		return nil
	},
	"ADMIN_ADDR": func(c *Config, v string) error {
		c.Admin.Address = v
		return nil
	},
	"STATIC_DIR": func(c *Config, v string) error {
		c.Demo.StaticDir = v
		return nil
	},
	"APP": func(c *Config, v string) error {
		c.App = v
		return nil
	},
}

func intSetter(field func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

// ApplyEnv overlays APPBRIDGE_* variables found through lookup onto c and
// reports whether any were set. A nil lookup reads the process
// environment.
func ApplyEnv(c *Config, lookup func(string) (string, bool)) (bool, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	used := false
	for key, set := range envKeys {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if err := set(c, v); err != nil {
			return used, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		used = true
	}
	return used, nil
}
