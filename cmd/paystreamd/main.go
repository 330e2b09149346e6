package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"paystream/config"
	"paystream/core"
	"paystream/observability"
	"paystream/observability/logging"
	"paystream/rpc"
	"paystream/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PAYSTREAM_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		logging.Setup("paystreamd", env, "")
		slog.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("paystreamd", env, cfg.LogFile)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}

	node := core.NewNode(db)
	defer node.Close()

	allocs, err := cfg.GenesisAllocs()
	if err != nil {
		logger.Error("Invalid genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}
	if err := node.ApplyGenesis(allocs); err != nil {
		logger.Error("Failed to apply genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go func() {
			logger.Info("Serving metrics", slog.String("address", addr))
			if err := observability.ServeMetrics(addr); err != nil {
				logger.Error("Metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	server := rpc.NewServer(node)
	logger.Info("Starting JSON-RPC server",
		slog.String("address", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName),
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
