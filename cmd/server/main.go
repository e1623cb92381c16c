// Riskengine - real-time hybrid fraud scoring for payment transactions
package main

import (
	"context"
	"os"

	"github.com/veilpay/riskengine/internal/config"
	"github.com/veilpay/riskengine/internal/logging"
	"github.com/veilpay/riskengine/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting riskengine",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"window", cfg.WindowSize,
		"static_weight", cfg.StaticWeight,
		"sequential_weight", cfg.SequentialWeight,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
