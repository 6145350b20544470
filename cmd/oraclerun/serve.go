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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/oraclerun/internal/config"
	httpiface "github.com/sawpanic/oraclerun/internal/interfaces/http"
	"github.com/sawpanic/oraclerun/internal/oracle/engine"
	"github.com/sawpanic/oraclerun/internal/oracle/source"
	"github.com/sawpanic/oraclerun/internal/persistence/postgres"
	"github.com/sawpanic/oraclerun/internal/persistence/redisstore"
)

// runServe wires the full service: sources, Postgres history, the optional
// Redis mirror, the aggregation engine and the HTTP server, then blocks
// until a shutdown signal.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	sources, err := buildSources(cfg)
	if err != nil {
		return err
	}

	if cfg.Database.URL == "" {
		return fmt.Errorf("database url is required: set DATABASE_URL or database.url")
	}
	db, err := postgres.Connect(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Database.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnLifetimeMin > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnLifetimeMin) * time.Minute)
	}
	history := postgres.NewHistoryRepo(db, 0)

	var sink engine.Sink
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		mirror, err := redisstore.NewMirror(cfg.Redis.URL, cfg.Redis.TTL())
		if err != nil {
			return fmt.Errorf("failed to connect redis mirror: %w", err)
		}
		defer mirror.Close()
		sink = mirror
		log.Info().Msg("Redis price mirror enabled")
	}

	metrics := httpiface.NewMetricsRegistry()
	eng := engine.New(engineConfig(cfg), sources, history, sink, metrics)
	defer eng.Close()

	handlers := httpiface.NewHandlers(eng, history, metrics)
	srv, err := httpiface.NewServer(serverConfig(cfg), handlers, metrics)
	if err != nil {
		return err
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go eng.StartMonitoring(monitorCtx)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	log.Info().
		Str("addr", srv.GetAddress()).
		Strs("symbols", cfg.Oracle.Symbols).
		Int("sources", len(sources)).
		Msg("Oracle service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	stopMonitor()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
		return err
	}

	log.Info().Msg("Shutdown complete")
	return nil
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Symbols:               cfg.Oracle.Symbols,
		CacheTTL:              cfg.Oracle.CacheTTL(),
		PollInterval:          cfg.Oracle.PollInterval(),
		SymbolGap:             cfg.Oracle.SymbolGap(),
		StalenessMax:          cfg.Oracle.StalenessMax(),
		DeviationMax:          cfg.Oracle.DeviationMax,
		ManipulationThreshold: cfg.Oracle.ManipulationThreshold,
		PriceMax:              cfg.Oracle.PriceMax,
		BlendWindow:           cfg.Oracle.BlendWindow(),
		SubscriberBuffer:      cfg.Oracle.SubscriberBuffer,
	}
}

func serverConfig(cfg *config.Config) httpiface.ServerConfig {
	return httpiface.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout(),
		WriteTimeout:   cfg.Server.WriteTimeout(),
		IdleTimeout:    cfg.Server.IdleTimeout(),
		RequestTimeout: cfg.Server.RequestTimeout(),
	}
}

// buildSources constructs the enabled upstream adapters, applying the
// feeds registry when one is configured. Without a registry the adapters
// use their built-in feed mappings.
func buildSources(cfg *config.Config) ([]source.Source, error) {
	var pythFeeds, sbAggregators map[string]string
	if cfg.Oracle.FeedsFile != "" {
		feeds, err := config.LoadFeedsConfig(cfg.Oracle.FeedsFile)
		if err != nil {
			return nil, err
		}
		pythFeeds = feeds.PythFeeds()
		sbAggregators = feeds.SwitchboardAggregators()
	}

	var sources []source.Source
	if cfg.Sources.Pyth.Enabled {
		sources = append(sources, source.NewPyth(source.PythConfig{
			BaseURL:       cfg.Sources.Pyth.BaseURL,
			Timeout:       cfg.Sources.Pyth.Timeout(),
			PriceMax:      cfg.Oracle.PriceMax,
			MaxConcurrent: cfg.Sources.Pyth.MaxConcurrent,
			MinGap:        cfg.Sources.Pyth.MinGap(),
			Feeds:         pythFeeds,
		}))
	}
	if cfg.Sources.Switchboard.Enabled {
		sources = append(sources, source.NewSwitchboard(source.SwitchboardConfig{
			RPCURL:        cfg.Sources.Switchboard.BaseURL,
			Timeout:       cfg.Sources.Switchboard.Timeout(),
			PriceMax:      cfg.Oracle.PriceMax,
			StalenessMax:  cfg.Oracle.StalenessMax(),
			MaxConcurrent: cfg.Sources.Switchboard.MaxConcurrent,
			MinGap:        cfg.Sources.Switchboard.MinGap(),
			Aggregators:   sbAggregators,
		}))
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no oracle sources enabled")
	}
	return sources, nil
}
