package config

import (
	"errors"
	"os"
	"strconv"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables. Populated
// at startup by LoadConfig.
var (
	// LogLevel is the zerolog level name ("debug", "info", "warn", "error").
	LogLevel string

	// WebPort is the HTTP listen port for the query API.
	WebPort string

	// ProtocolFeeRatio is the protocol's cut of every swap fee, as an
	// 18-decimal fixed-point integer string (5e17 = 50%).
	ProtocolFeeRatio sdkmath.Int
	// FlashLoanFee is the flash loan fee rate, 18-decimal fixed-point
	// (9e14 = 0.09%).
	FlashLoanFee sdkmath.Int

	// PoolAuthority is the account allowed to register pools.
	PoolAuthority string
	// FeeCollector is the account allowed to withdraw protocol fees.
	FeeCollector string

	// SnapshotIntervalSeconds is how often pool state is journaled to the
	// database. Zero disables the snapshot loop.
	SnapshotIntervalSeconds uint64

	// Database connection parameters.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	LogLevel = getEnvWithDefault("VAULTCORE_LOG_LEVEL", "info")
	WebPort = getEnvWithDefault("VAULTCORE_WEB_PORT", "8080")

	ProtocolFeeRatio, err = getEnvAsIntDec("VAULTCORE_PROTOCOL_FEE_RATIO", "500000000000000000")
	if err != nil {
		return err
	}

	FlashLoanFee, err = getEnvAsIntDec("VAULTCORE_FLASH_LOAN_FEE", "900000000000000")
	if err != nil {
		return err
	}

	PoolAuthority, err = getEnv("VAULTCORE_POOL_AUTHORITY")
	if err != nil {
		return err
	}

	FeeCollector, err = getEnv("VAULTCORE_FEE_COLLECTOR")
	if err != nil {
		return err
	}

	SnapshotIntervalSeconds, err = getEnvAsUint64WithDefault("VAULTCORE_SNAPSHOT_INTERVAL_SECONDS", 300)
	if err != nil {
		return err
	}

	DBHost = getEnvWithDefault("VAULTCORE_DB_HOST", "localhost")
	DBPort, err = getEnvAsIntWithDefault("VAULTCORE_DB_PORT", 5432)
	if err != nil {
		return err
	}
	DBUser, err = getEnv("VAULTCORE_DB_USER")
	if err != nil {
		return err
	}
	DBPassword, err = getEnv("VAULTCORE_DB_PASSWORD")
	if err != nil {
		return err
	}
	DBName, err = getEnv("VAULTCORE_DB_NAME")
	if err != nil {
		return err
	}
	DBSSLMode = getEnvWithDefault("VAULTCORE_DB_SSLMODE", "disable")

	log.Debug().
		Str("WebPort", WebPort).
		Str("ProtocolFeeRatio", ProtocolFeeRatio.String()).
		Str("FlashLoanFee", FlashLoanFee.String()).
		Str("PoolAuthority", PoolAuthority).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvWithDefault retrieves a string environment variable, falling back
// to def when unset.
func getEnvWithDefault(key, def string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return def
}

// getEnvAsUint64WithDefault retrieves an environment variable as a uint64,
// falling back to def when unset.
func getEnvAsUint64WithDefault(key string, def uint64) (uint64, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return def, nil
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsIntWithDefault retrieves an environment variable as an int,
// falling back to def when unset.
func getEnvAsIntWithDefault(key string, def int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return def, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsIntDec retrieves an environment variable as an 18-decimal
// fixed-point integer, falling back to def when unset.
func getEnvAsIntDec(key, def string) (sdkmath.Int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		valueStr = def
	}
	value, ok := sdkmath.NewIntFromString(valueStr)
	if !ok {
		return sdkmath.Int{}, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	if value.IsNegative() {
		return sdkmath.Int{}, errors.New("environment variable " + key + " must not be negative, got: " + valueStr)
	}
	return value, nil
}
