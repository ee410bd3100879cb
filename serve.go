package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"filing-engine/internal/cms"
	"filing-engine/internal/config"
	"filing-engine/internal/engine"
	"filing-engine/internal/handler"
	"filing-engine/internal/metrics"
	"filing-engine/internal/model"
	"filing-engine/internal/schema"
	"filing-engine/internal/store"
	"filing-engine/internal/store/memory"
	"filing-engine/internal/store/sqlite"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	m := metrics.New()

	schemas, err := loadSchemas(cfg.Schemas)
	if err != nil {
		return err
	}
	if cfg.Schemas.Dir != "" && cfg.Schemas.Watch {
		w, err := schema.NewWatcher(cfg.Schemas.Dir, schemas, cfg.Schemas.Debounce, logger)
		if err != nil {
			return fmt.Errorf("failed to create schema watcher: %w", err)
		}
		w.OnReload(m.SchemaReload)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch schema directory: %w", err)
		}
		defer w.Stop()
	}

	repo, closer, err := openRepository(cfg.Store)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	sessions := engine.NewManager(repo, schemas, engine.Options{
		AutosaveDelay: cfg.Autosave.Delay,
		LegacyFees:    cfg.Legacy,
		Logger:        logger,
		Metrics:       m,
	})
	h := handler.New(schemas, sessions, handler.Options{
		Metrics:    m,
		Logger:     logger,
		LegacyFees: cfg.Legacy,
		Timeout:    cfg.Server.WriteTimeout,
	})

	server := &fasthttp.Server{
		Handler:      h.Handle,
		Name:         "filing-engine",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Filing engine starting",
			zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
			zap.Int("schemas", schemas.Len()))
		errCh <- server.ListenAndServe(":" + cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	if err := sessions.CloseAll(shutdownCtx); err != nil {
		logger.Error("Failed to flush open sessions", zap.Error(err))
		return err
	}
	return nil
}

func loadSchemas(c config.SchemaConfig) (*schema.Store, error) {
	schemas := schema.NewStore(c.DefaultYear, logger)
	if err := schema.LoadInto(schemas, c.Dir); err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}
	for _, sc := range schemasOf(schemas) {
		for _, finding := range sc.Lint() {
			logger.Warn("Schema lint", zap.Int("year", sc.Year), zap.String("type", string(sc.FilingType)), zap.String("finding", finding))
		}
	}
	return schemas, nil
}

// schemasOf lists every stored schema through the per-type year index.
func schemasOf(s *schema.Store) []*schema.Schema {
	var out []*schema.Schema
	for _, ft := range []model.FilingType{model.FilingIndividual, model.FilingCorporate, model.FilingTrust} {
		for _, year := range s.Years(ft) {
			if sc, err := s.Get(year, ft); err == nil {
				out = append(out, sc)
			}
		}
	}
	return out
}

func openRepository(c config.StoreConfig) (store.Repository, io.Closer, error) {
	switch c.Driver {
	case config.DriverSQLite:
		s, err := sqlite.Open(c.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.DriverCMS:
		client, err := cms.New(cms.Config{BaseURL: c.CMSURL, Timeout: c.CMSTimeout, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return client, nil, nil
	}
	return memory.New(), nil, nil
}
