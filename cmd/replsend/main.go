// Command replsend runs the control-protocol server and replication
// dispatcher: it accepts mTLS connections from a coordinating master,
// answers rr_make_snapshot / rr_transfer_snapshot, and streams a full
// snapshot of the local store to a freshly joined replica.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"replsend/config"
	"replsend/metrics"
	"replsend/replication"
	"replsend/server"
	"replsend/storage"
)

var (
	initFlag = flag.Bool("init", false, "Generate configuration and certificates, then exit")
	homeDir  = flag.String("home", "rsdata", "Home directory for data, certs, and config")
)

func main() {
	flag.Parse()

	if *initFlag {
		if err := runInit(*homeDir); err != nil {
			fmt.Fprintf(os.Stderr, "initialization failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := run(*homeDir, logger); err != nil {
		logger.Error("replsend exited with error", "err", err)
		os.Exit(1)
	}
}

func runInit(home string) error {
	cfg := config.Default()
	configPath := filepath.Join(home, "replsend.json")
	if err := config.GenerateConfigArtifacts(home, cfg, configPath); err != nil {
		return fmt.Errorf("generating artifacts: %w", err)
	}
	return nil
}

func run(home string, logger *slog.Logger) error {
	configPath := filepath.Join(home, "replsend.json")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config (run with -init first?): %w", err)
	}
	if err := config.ValidateSecurityConfig(cfg); err != nil {
		return err
	}

	if cfg.Debug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	dataDir := config.ResolvePath(home, cfg.DataDir)
	engine, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("opening storage engine: %w", err)
	}
	defer engine.Close()

	state := replication.NewState()

	codec := cfg.CompressCodec
	if !cfg.Compress {
		codec = "none"
	}

	srv, err := server.New(
		cfg.ListenAddr,
		logger,
		cfg.MaxConns,
		config.ResolvePath(home, cfg.TLSCertFile),
		config.ResolvePath(home, cfg.TLSKeyFile),
		config.ResolvePath(home, cfg.TLSCAFile),
		nil, // dispatcher wired in below, once the collector can see the server's stats
	)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	collector := metrics.NewCollector(srv)
	dispatcher := replication.NewDispatcher(engine, state, collector, codec, logger)
	srv.SetDispatcher(dispatcher)

	if cfg.MetricsAddr != "" {
		metrics.StartServer(cfg.MetricsAddr, collector, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped unexpectedly", "err", err)
		}
	}

	if err := srv.CloseAll(); err != nil {
		return fmt.Errorf("closing server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
