package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/manpreetbhatti/lattice/relay/internal/api"
	"github.com/manpreetbhatti/lattice/relay/internal/config"
	"github.com/manpreetbhatti/lattice/relay/internal/db"
	"github.com/manpreetbhatti/lattice/relay/internal/logging"
	"github.com/manpreetbhatti/lattice/relay/internal/metrics"
	"github.com/manpreetbhatti/lattice/relay/internal/retention"
	"github.com/manpreetbhatti/lattice/relay/internal/room"
	"github.com/manpreetbhatti/lattice/relay/internal/ws"
)

const (
	journalQueueSize = 1024
	shutdownTimeout  = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.IsDev())
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	observers := []room.Observer{metrics.RoomObserver{}}

	var database *db.Database
	if cfg.DBPath != "" {
		database, err = db.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("database opening failed: %w", err)
		}
		defer func() {
			log.Info("db.closing")
			_ = database.Close()
		}()

		journal := db.NewJournal(database, log, journalQueueSize)
		journal.Start()
		defer journal.Stop()
		observers = append(observers, journal)

		pruner := retention.New(database, retention.Config{
			Schedule: cfg.RetentionSchedule,
			MaxAge:   cfg.RetentionMaxAge,
		}, log)
		if err := pruner.Start(); err != nil {
			return err
		}
		defer pruner.Stop()
	}

	registry := room.NewRegistry(log, observers...)

	opts := ws.DefaultOptions()
	opts.SendBuffer = cfg.SendBuffer
	opts.MaxMessageBytes = cfg.MaxMessageBytes
	opts.MessagesPerSecond = cfg.MessagesPerSecond
	opts.MessageBurst = cfg.MessageBurst
	opts.AllowedOrigins = cfg.AllowedOrigins()

	wsServer := ws.NewServer(registry, log, opts)
	defer wsServer.Close()

	router := api.NewRouter(
		api.New(registry, wsServer, database, log),
		wsServer.ServeWs,
		cfg.AllowedOrigins(),
	)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("relay.listening",
			zap.String("addr", srv.Addr),
			zap.Bool("journal", database != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
	case <-ctx.Done():
	}

	log.Info("relay.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
