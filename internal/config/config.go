// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Ledger backends.
const (
	LedgerEthereum = "ethereum"
	LedgerMemory   = "memory"
)

const (
	envPrefix = "DEGREELEDGER_"
	// minSecretLen matches the HS256 key size.
	minSecretLen = 32
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	Ledger string

	RPCURL           string
	ContractAddress  string
	IssuerPrivateKey string
	// ChainID is nil when the node should be asked.
	ChainID *big.Int

	Confirmations        uint64
	ConfirmTimeout       time.Duration
	ReceiptPollInterval  time.Duration
	ReconcileMaxInterval time.Duration

	ReadRPS         float64
	ListConcurrency int

	ListenAddr string
	DBPath     string
	APISecret  string

	MirrorRetryMaxElapsed time.Duration
}

// AuthEnabled reports whether write endpoints require a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.APISecret != ""
}

// Load reads configuration from environment variables and returns a validated Config.
// DEGREELEDGER_LEDGER selects the backend: "ethereum" (default) requires
// DEGREELEDGER_RPC_URL, DEGREELEDGER_CONTRACT_ADDRESS and
// DEGREELEDGER_ISSUER_PRIVATE_KEY; "memory" runs the in-process ledger.
// Optional variables with defaults: CHAIN_ID (from node), CONFIRMATIONS (1),
// CONFIRM_TIMEOUT (2m), RECEIPT_POLL_INTERVAL (2s), RECONCILE_MAX_INTERVAL (30s),
// READ_RPS (20), LIST_CONCURRENCY (4), LISTEN_ADDR (127.0.0.1:8080),
// DB_PATH (degreeledger.db), API_SECRET (unset, auth off),
// MIRROR_RETRY_MAX_ELAPSED (10m).
func Load() (*Config, error) {
	cfg := &Config{
		Ledger:                LedgerEthereum,
		Confirmations:         1,
		ConfirmTimeout:        2 * time.Minute,
		ReceiptPollInterval:   2 * time.Second,
		ReconcileMaxInterval:  30 * time.Second,
		ReadRPS:               20,
		ListConcurrency:       4,
		ListenAddr:            "127.0.0.1:8080",
		DBPath:                "degreeledger.db",
		MirrorRetryMaxElapsed: 10 * time.Minute,
	}

	if v, ok := lookup("LEDGER"); ok {
		cfg.Ledger = strings.ToLower(v)
	}
	if cfg.Ledger != LedgerEthereum && cfg.Ledger != LedgerMemory {
		return nil, fmt.Errorf("%sLEDGER must be %q or %q, got %q", envPrefix, LedgerEthereum, LedgerMemory, cfg.Ledger)
	}

	cfg.RPCURL, _ = lookup("RPC_URL")
	cfg.ContractAddress, _ = lookup("CONTRACT_ADDRESS")
	cfg.IssuerPrivateKey, _ = lookup("ISSUER_PRIVATE_KEY")
	cfg.APISecret, _ = lookup("API_SECRET")

	if cfg.APISecret != "" && len(cfg.APISecret) < minSecretLen {
		return nil, fmt.Errorf("%sAPI_SECRET must be at least %d characters", envPrefix, minSecretLen)
	}

	if v, ok := lookup("CHAIN_ID"); ok {
		id, ok := new(big.Int).SetString(v, 10)
		if !ok || id.Sign() <= 0 {
			return nil, fmt.Errorf("%sCHAIN_ID has invalid value %q", envPrefix, v)
		}
		cfg.ChainID = id
	}

	var err error
	if cfg.Confirmations, err = uintVar("CONFIRMATIONS", cfg.Confirmations); err != nil {
		return nil, err
	}
	if cfg.Confirmations == 0 {
		return nil, fmt.Errorf("%sCONFIRMATIONS must be at least 1", envPrefix)
	}
	if cfg.ConfirmTimeout, err = durationVar("CONFIRM_TIMEOUT", cfg.ConfirmTimeout); err != nil {
		return nil, err
	}
	if cfg.ReceiptPollInterval, err = durationVar("RECEIPT_POLL_INTERVAL", cfg.ReceiptPollInterval); err != nil {
		return nil, err
	}
	if cfg.ReconcileMaxInterval, err = durationVar("RECONCILE_MAX_INTERVAL", cfg.ReconcileMaxInterval); err != nil {
		return nil, err
	}
	if cfg.MirrorRetryMaxElapsed, err = durationVar("MIRROR_RETRY_MAX_ELAPSED", cfg.MirrorRetryMaxElapsed); err != nil {
		return nil, err
	}

	if v, ok := lookup("READ_RPS"); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			return nil, fmt.Errorf("%sREAD_RPS has invalid value %q", envPrefix, v)
		}
		cfg.ReadRPS = rps
	}

	concurrency, err := uintVar("LIST_CONCURRENCY", uint64(cfg.ListConcurrency))
	if err != nil {
		return nil, err
	}
	if concurrency == 0 || concurrency > 64 {
		return nil, fmt.Errorf("%sLIST_CONCURRENCY must be between 1 and 64", envPrefix)
	}
	cfg.ListConcurrency = int(concurrency)

	if v, ok := lookup("LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := lookup("DB_PATH"); ok {
		cfg.DBPath = v
	}

	if cfg.Ledger == LedgerEthereum {
		var missing []string
		for name, v := range map[string]string{
			"RPC_URL":            cfg.RPCURL,
			"CONTRACT_ADDRESS":   cfg.ContractAddress,
			"ISSUER_PRIVATE_KEY": cfg.IssuerPrivateKey,
		} {
			if v == "" {
				missing = append(missing, envPrefix+name)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return nil, errors.New("ethereum ledger requires " + strings.Join(missing, ", "))
		}
	}

	return cfg, nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func durationVar(name string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(name)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s has invalid duration %q: %w", envPrefix, name, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s%s must be positive, got %q", envPrefix, name, v)
	}
	return d, nil
}

func uintVar(name string, def uint64) (uint64, error) {
	v, ok := lookup(name)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s%s has invalid value %q: %w", envPrefix, name, v, err)
	}
	return n, nil
}
