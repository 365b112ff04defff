// Command docflowd runs the document approval service: the workflow
// runtime with a SQLite-backed history, the publish approval workflow,
// the change-feed translator, and the HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/docflowio/docflow"
	"github.com/docflowio/docflow/approval"
	"github.com/docflowio/docflow/docstore"
	"github.com/docflowio/docflow/internal/httpapi"
	"github.com/docflowio/docflow/internal/translator"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	if err := run(logger); err != nil {
		logger.Error("docflowd_exit", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	addr := envOr("DOCFLOW_ADDR", ":8080")
	driver := envOr("DOCFLOW_DB_DRIVER", "sqlite")
	dsn := envOr("DOCFLOW_DB", "file:docflow.db?_journal=WAL")

	cfg := docflow.DefaultConfig()
	if origins := os.Getenv("DOCFLOW_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}
	if v := os.Getenv("DOCFLOW_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv("DOCFLOW_APPROVAL_DEADLINE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		cfg.ApprovalDeadline = d
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := docflow.RuntimeOptions{
		Config:   cfg,
		Observer: docflow.NewLoggingObserver(logger),
		Logger:   logger,
	}

	var rt *docflow.Runtime
	switch driver {
	case "sqlite":
		rt, err = docflow.NewSQLiteRuntime(db, opts)
	case "postgres":
		rt, err = docflow.NewPostgresRuntime(db, opts)
	default:
		return fmt.Errorf("unsupported DOCFLOW_DB_DRIVER %q", driver)
	}
	if err != nil {
		return err
	}

	docs := docstore.NewMemory()
	approval.Register(rt, approval.NewActivities(docs), cfg.ApprovalDeadline)
	trans := translator.New(docs, rt, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.Start(ctx)
	defer rt.Stop()

	recovered, err := rt.RecoverPending(ctx)
	if err != nil {
		return err
	}
	logger.Info("runtime_started", slog.Int("recovered_instances", recovered))

	srv := &http.Server{
		Addr:    addr,
		Handler: httpapi.NewServer(rt, trans, cfg, logger).Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http_listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		trans.RunLoop(ctx, cfg.PollInterval)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
