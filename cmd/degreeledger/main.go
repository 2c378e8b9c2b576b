package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/degreeledger/internal/adapter/driven/ethereum"
	"github.com/ericfisherdev/degreeledger/internal/adapter/driven/memledger"
	sqliteadapter "github.com/ericfisherdev/degreeledger/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/degreeledger/internal/adapter/driving/http"
	"github.com/ericfisherdev/degreeledger/internal/application"
	"github.com/ericfisherdev/degreeledger/internal/application/verification"
	"github.com/ericfisherdev/degreeledger/internal/config"
	"github.com/ericfisherdev/degreeledger/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"ledger", cfg.Ledger,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"confirmations", cfg.Confirmations,
		"confirm_timeout", cfg.ConfirmTimeout,
		"auth_enabled", cfg.AuthEnabled(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the mirror database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")
	mirror := sqliteadapter.NewCredentialRepo(db)

	// 5. Connect the ledger.
	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	// 6. Start the transaction sequencer and the mirror retrier.
	seq := application.NewSequencer(ledger, application.SequencerConfig{
		ReconcileMaxInterval: cfg.ReconcileMaxInterval,
	}, slog.Default())
	retrier := application.NewMirrorRetrier(mirror, application.MirrorRetrierConfig{
		MaxElapsed: cfg.MirrorRetryMaxElapsed,
	}, slog.Default())

	seqDone := make(chan struct{})
	go func() {
		seq.Start(ctx)
		close(seqDone)
	}()
	retrierDone := make(chan struct{})
	go func() {
		retrier.Start(ctx)
		close(retrierDone)
	}()

	// 7. Create the coordinators and the verification engine.
	issuer := application.NewIssuanceService(seq, ledger, mirror,
		application.WithLogger(slog.Default()),
		application.WithMirrorRetrier(retrier),
	)
	revoker := application.NewRevocationService(seq, mirror,
		application.WithLogger(slog.Default()),
		application.WithMirrorRetrier(retrier),
	)
	engine := verification.NewEngine(ledger,
		verification.WithRateLimit(cfg.ReadRPS, max(1, int(cfg.ReadRPS))),
		verification.WithConcurrency(cfg.ListConcurrency),
		verification.WithLogger(slog.Default()),
	)

	// 8. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(issuer, revoker, engine, mirror, seq, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default(), cfg.APISecret)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Issue and revoke hold the request open until confirmation.
		WriteTimeout: cfg.ConfirmTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("degreeledger started", "listen_addr", cfg.ListenAddr, "ledger", cfg.Ledger)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown: drain HTTP, then let the workers observe cancellation.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	<-seqDone
	<-retrierDone

	if n := retrier.Pending(); n > 0 {
		slog.Warn("mirror writes still pending at shutdown", "count", n)
	}

	slog.Info("shutdown complete")
	return nil
}

// openLedger returns the configured ledger backend and its release func.
func openLedger(ctx context.Context, cfg *config.Config) (driven.LedgerClient, func(), error) {
	if cfg.Ledger == config.LedgerMemory {
		slog.Warn("using in-memory ledger; credentials do not survive a restart")
		return memledger.New(memledger.WithConfirmTimeout(cfg.ConfirmTimeout)), func() {}, nil
	}

	signer, err := ethereum.NewPrivateKeySigner(cfg.IssuerPrivateKey)
	if err != nil {
		return nil, nil, err
	}

	client, err := ethereum.Dial(ctx, cfg.RPCURL, signer, ethereum.Config{
		ContractAddress: cfg.ContractAddress,
		ChainID:         cfg.ChainID,
		Confirmations:   cfg.Confirmations,
		ConfirmTimeout:  cfg.ConfirmTimeout,
		PollInterval:    cfg.ReceiptPollInterval,
	}, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	slog.Info("ledger connected", "signer", client.SignerAddress(), "contract", cfg.ContractAddress)

	return client, client.Close, nil
}
