package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/crestline-fi/vaultcore/internal/config"
	"github.com/crestline-fi/vaultcore/internal/logger"
	"github.com/crestline-fi/vaultcore/internal/state"
	"github.com/crestline-fi/vaultcore/internal/types"
	"github.com/crestline-fi/vaultcore/internal/vault"
	"github.com/crestline-fi/vaultcore/internal/web"
)

// main is the entry point for the vault core service.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(config.LogLevel)
	log.Info().Msg("Vault core starting...")

	// Initialize database connection (receipt and snapshot journal)
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Vault Initialization ---
	registry := prometheus.NewRegistry()
	metrics, err := vault.NewMetrics(registry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register metrics")
	}

	backend := vault.NewMemoryBackend()
	vaultCfg := vault.Config{
		ProtocolFeeRatio: config.ProtocolFeeRatio,
		FlashLoanFee:     config.FlashLoanFee,
		PoolAuthority:    types.Account(config.PoolAuthority),
		FeeCollector:     types.Account(config.FeeCollector),
	}
	v, err := vault.New(vaultCfg, backend, state.BatchJournal{}, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize vault")
	}
	log.Info().
		Str("poolAuthority", config.PoolAuthority).
		Str("protocolFeeRatio", config.ProtocolFeeRatio.String()).
		Msg("Vault initialized")

	// --- 3. Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, v, registry)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting vault query API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Snapshot Loop ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if config.SnapshotIntervalSeconds > 0 {
		interval := time.Duration(config.SnapshotIntervalSeconds) * time.Second
		log.Info().Str("interval", interval.String()).Msg("Starting pool snapshot loop")
		go runSnapshotLoop(ctx, v, interval)
	}

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, journaling final snapshot...")
	snapshotPools(v)
	log.Info().Msg("Vault core stopped.")
	os.Exit(0)
}

// runSnapshotLoop journals pool state on a fixed interval until ctx ends.
func runSnapshotLoop(ctx context.Context, v *vault.Vault, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshotPools(v)
		}
	}
}

func snapshotPools(v *vault.Vault) {
	pools, err := v.ListPools()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read pools for snapshot")
		return
	}
	if len(pools) == 0 {
		return
	}
	if err := state.SavePoolSnapshots(pools); err != nil {
		log.Error().Err(err).Msg("Failed to journal pool snapshots")
		return
	}
	log.Debug().Int("pools", len(pools)).Msg("Journaled pool snapshots")
}
