package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"3send.xyz/send/blob"
	"3send.xyz/send/chain"
	"3send.xyz/send/config"
	"3send.xyz/send/httpapi"
	"3send.xyz/send/ingest"
	"3send.xyz/send/ledger"
	"3send.xyz/send/payment"
	"3send.xyz/send/store"
	"3send.xyz/send/store/boltstore"
	"3send.xyz/send/store/grpcstore"
	"3send.xyz/send/sweep"
)

func main() {
	fs := flag.NewFlagSet("3send-uploadd", flag.ExitOnError)
	configPath := fs.String("config", "3send.json", "config file path")
	_ = fs.Parse(os.Args[1:])

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	sweepInterval, err := cfg.SweepIntervalDuration()
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	blobs, err := blob.NewLocalFS(cfg.BlobRoot)
	if err != nil {
		return err
	}

	ledgers := ledger.New(st, cfg.MonthlyFreeLimit)
	orchestrator := &ingest.Orchestrator{
		Verifier: &payment.Verifier{
			Chain:        chain.NewRPCClient(cfg.Chain.RPCURL, 15*time.Second),
			Tiers:        cfg.Tiers,
			BurnContract: cfg.Chain.ContractAddress,
		},
		Ledger:    ledgers,
		Blobs:     blobs,
		Retention: cfg.Retention(),
		Logger:    logger,
	}

	runner := &sweep.Runner{
		Sweeper: &sweep.Sweeper{
			Ledger: ledgers,
			Blobs:  blobs,
			Logger: logger,
		},
		Interval: sweepInterval,
		Logger:   logger,
	}

	mux := httpapi.NewMux(&httpapi.Handler{
		Ingest:         orchestrator,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner.Start(ctx)
	defer runner.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("3send-uploadd listening", "addr", cfg.Listen, "storeBackend", cfg.Store.Backend)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (store.Store, func() error, error) {
	switch cfg.Backend {
	case "bolt":
		st, err := boltstore.Open(cfg.BoltPath, boltstore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "grpc":
		client, err := grpcstore.Dial(cfg.GRPCTarget, grpcstore.DialOptions{Timeout: 10 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		client.Timeout = 10 * time.Second
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
