package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vietddude/lens/internal/core/config"
	"github.com/vietddude/lens/internal/infra/tabular"
	"github.com/vietddude/lens/internal/toolserver"
)

const version = "0.1.0"

// lens-tools is the stdio tool server the processor spawns. Frames go
// over stdout, so all logging stays on stderr.
func main() {
	backend := flag.String("backend", "mock", "datastore backend: mock or tabular")
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	_ = godotenv.Load()

	slogLevel := slog.LevelInfo
	if *isDebug {
		slogLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel,
	})))

	var store toolserver.Backend
	switch *backend {
	case "mock":
		store = toolserver.NewMockBackend()
	case "tabular":
		cfg, err := config.Load(*configPath)
		if err != nil {
			slog.Error("Failed to load config", "error", err)
			os.Exit(1)
		}
		client, err := tabular.NewClient(cfg.Tabular)
		if err != nil {
			slog.Error("Failed to build tabular client", "error", err)
			os.Exit(1)
		}
		store = client
	default:
		slog.Error("Unknown backend", "backend", *backend)
		os.Exit(1)
	}

	srv := toolserver.NewServer(toolserver.ServerInfo{
		Name:    "lens-tools",
		Version: version,
	}, os.Stdin, os.Stdout)
	toolserver.RegisterDatastoreTools(srv, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := srv.Serve(ctx); err != nil {
		slog.Error("Tool server exited", "error", err)
		os.Exit(1)
	}
}
