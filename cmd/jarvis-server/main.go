package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/theimaginaryfoundation/jarvis/bootstrap"
	"github.com/theimaginaryfoundation/jarvis/config"
	"github.com/theimaginaryfoundation/jarvis/httpapi"
	"github.com/theimaginaryfoundation/jarvis/logging"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	svcCfg, err := loadServiceConfig(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	log, err := logging.New(svcCfg.Logging.Mode, svcCfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, svcCfg, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func loadServiceConfig(cfg Config) (*config.Config, error) {
	svcCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.Addr != "" {
		svcCfg.Server.Addr = cfg.Addr
	}
	if cfg.LogMode != "" {
		svcCfg.Logging.Mode = cfg.LogMode
	}
	if cfg.LogLevel != "" {
		svcCfg.Logging.Level = cfg.LogLevel
	}
	return svcCfg, svcCfg.Validate()
}

func run(ctx context.Context, cfg Config, svcCfg *config.Config, log *logging.Logger) error {
	app, err := bootstrap.Build(ctx, svcCfg, log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	warnings, err := app.Orchestrator.Init(ctx)
	for _, w := range warnings {
		log.Warn("init warning", "warning", w)
	}
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: svcCfg.Server.Addr,
		Handler: httpapi.NewRouter(app.Orchestrator, httpapi.Options{
			RequestsPerMinute: svcCfg.Server.RequestsPerMinute,
			CORSOrigins:       svcCfg.Server.CORSOrigins,
			RequestTimeout:    svcCfg.Server.WriteTimeout,
			Log:               log,
		}),
		ReadTimeout:  svcCfg.Server.ReadTimeout,
		WriteTimeout: svcCfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.ConfigPath, "config", "", "Optional YAML config file (env JARVIS_* overrides it)")
	fs.StringVar(&cfg.Addr, "addr", "", "Listen address override (default from server.addr)")
	fs.StringVar(&cfg.LogMode, "log-mode", "", "Logging mode override: development or production")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level override: debug, info, warn, error")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Grace period for in-flight requests on shutdown")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
