package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mathvizai/mathviz/internal/artifact"
	"github.com/mathvizai/mathviz/internal/common"
	"github.com/mathvizai/mathviz/internal/export"
	"github.com/mathvizai/mathviz/internal/llm"
	"github.com/mathvizai/mathviz/internal/pdfex"
	"github.com/mathvizai/mathviz/internal/pipeline"
	"github.com/mathvizai/mathviz/internal/render"
	"github.com/mathvizai/mathviz/internal/server"
	"github.com/mathvizai/mathviz/internal/stages"
	"github.com/mathvizai/mathviz/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.LogLevel, "json")
	if err := cfg.Validate(); err != nil {
		logger.Error("config invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var jobs store.Store
	if cfg.Storage.JobDBPath != "" {
		sqliteStore, err := store.NewSQLiteStore(cfg.Storage.JobDBPath, logger)
		if err != nil {
			logger.Error("open job db", "path", cfg.Storage.JobDBPath, "error", err)
			os.Exit(1)
		}
		defer sqliteStore.Close()
		// Runs that were in flight when the previous process died can never
		// resume; fail them now so callers see a terminal state.
		if n, err := sqliteStore.FailInterrupted(ctx); err != nil {
			logger.Error("recover interrupted jobs", "error", err)
			os.Exit(1)
		} else if n > 0 {
			logger.Warn("failed interrupted jobs from previous run", "count", n)
		}
		jobs = sqliteStore
	} else {
		jobs = store.NewMemoryStore(logger)
	}

	artifacts, err := artifact.NewStore(cfg.Storage.OutputDir, logger)
	if err != nil {
		logger.Error("init artifact store", "error", err)
		os.Exit(1)
	}

	gen, err := llm.NewOpenAIGenerator(cfg.LLM, logger)
	if err != nil {
		logger.Error("init llm client", "error", err)
		os.Exit(1)
	}
	engine := render.NewManimEngine(cfg.Render, cfg.Storage.TempDir, logger)

	defn, err := stages.BuildDefinition(cfg, gen, engine, logger)
	if err != nil {
		logger.Error("build pipeline", "error", err)
		os.Exit(1)
	}
	orch := pipeline.NewOrchestrator(jobs, artifacts, defn, cfg.Pipeline, logger)

	extractor := pdfex.NewPopplerExtractor(cfg.Storage.TempDir, logger)
	exporter := export.NewService(jobs, logger)
	srv := server.NewServer(cfg, jobs, orch, artifacts, extractor, exporter, logger)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	go func() {
		logger.Info("http serving", "addr", cfg.Server.Addr, "stages", defn.Names())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	// Let in-flight pipeline runs reach a terminal state before the stores close.
	orch.Wait()
	logger.Info("stopped")
}
