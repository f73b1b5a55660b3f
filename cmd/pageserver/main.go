package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/pageserver/internal/docroot"
	"github.com/marmos91/pageserver/internal/logger"
	"github.com/marmos91/pageserver/pkg/adapter/page"
	"github.com/marmos91/pageserver/pkg/config"
	"github.com/marmos91/pageserver/pkg/server"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("pageserver", pflag.ContinueOnError)
	configPath := flags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/pageserver/config.yaml)")
	initConfig := flags.Bool("init-config", false, "Write a sample config file to the default location and exit")
	force := flags.Bool("force", false, "Overwrite an existing config file with --init-config")
	config.BindFlags(flags)

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *initConfig {
		path, err := config.InitConfig(*force)
		if err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", path)
		return nil
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		return err
	}

	log, closer, err := logger.Open(cfg.Logging.Output,
		logger.ParseLevel(cfg.Logging.Level), logger.Format(cfg.Logging.Format))
	if err != nil {
		return err
	}
	defer closer.Close()

	for _, warning := range cfg.Warnings() {
		log.Warn("%s", warning)
	}

	resolver, err := docroot.NewResolver(cfg.Server.DocRoot)
	if err != nil {
		return fmt.Errorf("invalid document root: %w", err)
	}

	catalog, err := config.CreateCatalog(&cfg.Pages)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsResult := config.InitializeMetrics(cfg, log)
	if metricsResult.Server != nil {
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				log.Error("Metrics server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsResult.Server.Stop(shutdownCtx)
		}()
	}

	log.Info("Server configuration:")
	log.Info("  Port: %d", cfg.Server.Port)
	log.Info("  Document root: %s", resolver.Root())
	log.Info("  Pages: %s", cfg.Pages.Type)
	log.Info("  Log level: %s", cfg.Logging.Level)
	log.Info("  Shutdown timeout: %v", cfg.Server.ShutdownTimeout)
	if metricsResult.Server != nil {
		log.Info("  Metrics: enabled on port %d", metricsResult.Server.Port())
	} else {
		log.Info("  Metrics: disabled")
	}

	srv := server.New(log, cfg.Server.ShutdownTimeout)
	adapter := page.New(cfg.Server, resolver, catalog, log.With("adapter", "page"), metricsResult.PageMetrics)
	if err := srv.AddAdapter(adapter); err != nil {
		return err
	}

	err = srv.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		var bindErr *page.BindError
		if errors.As(err, &bindErr) {
			return fmt.Errorf("cannot listen on port %d: %w", bindErr.Port, bindErr.Err)
		}
		return err
	}

	log.Info("Server stopped")
	return nil
}
