package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/opsgate/releasegate/api"
	"github.com/opsgate/releasegate/config"
	"github.com/opsgate/releasegate/db"
	"github.com/opsgate/releasegate/gate"
	"github.com/opsgate/releasegate/platform"
	"github.com/opsgate/releasegate/registry"
	"github.com/opsgate/releasegate/status"
)

func main() {
	configPath := flag.String("config", "/etc/releasegate/config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg)
	log.Printf("Loaded configuration for %d services", len(cfg.Services))

	// Initialize database
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()

	// Initialize platform driver
	driver, err := newPlatform(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize platform driver: %v", err)
	}
	log.Printf("Platform driver: %s", cfg.Platform.Type)

	// Initialize registry verifier
	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize registry client: %v", err)
	}

	server, err := api.NewServer(cfg, database, driver, verifier)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func newPlatform(ctx context.Context, cfg *config.Config) (gate.Platform, error) {
	switch cfg.Platform.Type {
	case "gitops":
		manifestPath := func(service string) string {
			if svc := cfg.GetService(service); svc != nil {
				return svc.ManifestPath
			}
			return ""
		}
		probeFor := func(service string) platform.RolloutProbe {
			svc := cfg.GetService(service)
			if svc == nil {
				return status.NewClient("", "")
			}
			return status.NewClient(svc.StatusURL, svc.StatusToken)
		}
		return platform.NewGitOps(cfg.Platform.GitOps, manifestPath, probeFor)
	default:
		return platform.NewECS(ctx, cfg.Platform.ECS)
	}
}

func newVerifier(ctx context.Context, cfg *config.Config) (registry.Verifier, error) {
	if cfg.Registry.Type == "ecr" {
		return registry.NewECR(ctx, &cfg.Registry)
	}
	// Anonymous pulls; per-service credentials override in the API layer.
	return registry.NewClient("", ""), nil
}
