// Command habitledger runs the habit ledger engine and its HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/habit_ledger/internal/config"
	"github.com/R3E-Network/habit_ledger/internal/httpapi"
	"github.com/R3E-Network/habit_ledger/internal/metrics"
	"github.com/R3E-Network/habit_ledger/internal/session"
	"github.com/R3E-Network/habit_ledger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	cfg, err := config.Load(config.Options{Path: *configPath, EnvFile: *envFile})
	if err != nil {
		logger.NewDefault("habitledger").WithError(err).Fatal("load configuration")
	}

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Component: "habitledger",
	})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("habitledger stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	persister, closePersister, err := session.OpenPersister(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePersister(); err != nil {
			log.WithError(err).Warn("close projection storage")
		}
	}()

	s, err := session.Open(ctx, cfg, session.Options{
		Logger:    log,
		Metrics:   m,
		Persister: persister,
	})
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		_ = s.Close(context.Background())
		return err
	}

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewHandler(httpapi.Deps{
			Controller: s.Controller,
			Store:      s.Store,
			Refresher:  s.Sync,
			Metrics:    m,
			Logger:     log.Named("httpapi"),
			Decimals:   cfg.Token.Decimals,
			Network:    cfg.Ledger.Network,
			Contract:   cfg.Ledger.Contract,
			Owner:      s.Owner,
			RateLimit:  cfg.HTTP.RateLimit,
			Burst:      cfg.HTTP.Burst,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).WithField("identity", s.Identity()).Info("http api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := s.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("session close")
	}
	log.Info("stopped")
	return runErr
}
