package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dqx0.com/go/appbridge/bridge"
	"dqx0.com/go/appbridge/internal/config"
	"dqx0.com/go/appbridge/internal/demo"
	"dqx0.com/go/appbridge/internal/registry"
)

// builtinApps registers every application compiled into the binary.
func builtinApps(cfg *config.Config) (*registry.Registry, error) {
	r := registry.New()
	for name, app := range map[string]bridge.Application{
		"demo:app":  demo.New(cfg.Demo.StaticDir),
		"demo:echo": bridge.AppFunc(demo.Echo),
	} {
		if err := r.Register(name, app); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func appsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List the applications that can be served",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := builtinApps(config.Default())
			if err != nil {
				return err
			}
			for _, n := range r.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}
