package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"dqx0.com/go/appbridge/bridge"
	"dqx0.com/go/appbridge/internal/admin"
	"dqx0.com/go/appbridge/internal/config"
	"dqx0.com/go/appbridge/internal/obs"
)

type serveFlags struct {
	addr      string
	logLevel  string
	detection string
	handlers  int
	adminAddr string
}

func serveCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve [module:callable]",
		Short: "Serve an application until interrupted",
		Example: `  appbridge serve demo:app
  appbridge serve demo:echo --addr 127.0.0.1:9000 --log-level debug`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f, args)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address as host:port (default :8888)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&f.detection, "binary-detection", "", "binary body detection: tagged or sniff")
	cmd.Flags().IntVar(&f.handlers, "max-handlers", 0, "bound concurrent handlers (0 = one goroutine per connection)")
	cmd.Flags().StringVar(&f.adminAddr, "admin-addr", "", "health and metrics listen address (empty = disabled)")
	return cmd
}

// loadConfig layers defaults, the config file, APPBRIDGE_* variables and
// flags, in that order, and validates the result.
func loadConfig(cmd *cobra.Command, f serveFlags, args []string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, found, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if !found && cmd.Flags().Changed("config") {
		return nil, fmt.Errorf("config file %s not found", path)
	}
	if _, err := config.ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	if f.addr != "" {
		if err := cfg.SetAddr(f.addr); err != nil {
			return nil, err
		}
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.detection != "" {
		cfg.Server.BinaryDetection = f.detection
	}
	if cmd.Flags().Changed("max-handlers") {
		cfg.Server.MaxHandlers = f.handlers
	}
	if f.adminAddr != "" {
		cfg.Admin.Address = f.adminAddr
	}
	if len(args) == 1 {
		cfg.App = args[0]
	}
	if cfg.App == "" {
		return nil, errors.New(`no application given: pass it as "module:callable", e.g. appbridge serve demo:app`)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serve(parent context.Context, cfg *config.Config) error {
	log := obs.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	apps, err := builtinApps(cfg)
	if err != nil {
		return err
	}
	app, err := apps.Lookup(cfg.App)
	if err != nil {
		return err
	}
	detection, err := bridge.ParseBinaryDetection(cfg.Server.BinaryDetection)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := &bridge.Server{
		Addr:           cfg.Addr(),
		App:            app,
		ServerName:     cfg.Server.Name,
		Ident:          cfg.Server.Ident,
		StaticDate:     cfg.Server.Date,
		ReadBufferSize: cfg.Server.ReadBuffer.Int(),
		Detection:      detection,
		MaxHandlers:    cfg.Server.MaxHandlers,
		Backlog:        cfg.Server.Backlog,
		AcceptRate:     cfg.Server.AcceptRPS,
		AcceptBurst:    cfg.Server.AcceptBurst,
		ErrorLog:       os.Stderr,
		Logger:         log,
		Meter:          obs.NewPromMeter(reg),
	}
	if err := srv.Bind(); err != nil {
		return err
	}
	log.Info("bridge_bound", "addr", srv.ListenAddr().String(), "app", cfg.App, "version", version,
		"read_buffer", humanize.IBytes(uint64(srv.ReadBufferSize)), "detection", detection.String())

	var adm *admin.Server
	var admErr <-chan error
	if cfg.Admin.Address != "" {
		adm = admin.New(reg, srv.Serving, version, log)
		if err := adm.Listen(cfg.Admin.Address); err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("admin listen %s: %w", cfg.Admin.Address, err)
		}
		admErr = adm.Start()
	}

	// set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ServeForever() }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_signal_received")
	case err := <-serveErr:
		if !errors.Is(err, bridge.ErrServerClosed) {
			runErr = err
		}
	case err, ok := <-admErr:
		if ok && err != nil {
			log.Error("admin_serve_failed", "error", err)
			runErr = err
		}
	}

	// shutdown with a bounded timeout so teardown cannot hang forever
	shutdownCtx, cancel := shutdownContext(cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("bridge_shutdown_incomplete", "error", err)
	}
	if adm != nil {
		if err := adm.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin_shutdown_failed", "error", err)
		}
	}
	log.Info("appbridge_stopped")
	return runErr
}

// shutdownContext bounds teardown by d. Zero waits for handlers without
// a limit.
func shutdownContext(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d)
}
