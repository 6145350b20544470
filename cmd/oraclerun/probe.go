package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/oraclerun/internal/persistence/postgres"
	"github.com/sawpanic/oraclerun/internal/persistence/redisstore"
)

const probeTimeout = 30 * time.Second

// runProbe checks every enabled upstream for every configured symbol, then
// pings the configured stores. It fails when any check fails.
func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sources, err := buildSources(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	failures := 0
	for _, src := range sources {
		for _, symbol := range cfg.Oracle.Symbols {
			start := time.Now()
			quote, err := src.QuoteFor(ctx, symbol)
			elapsed := time.Since(start).Round(time.Millisecond)
			if err != nil {
				failures++
				fmt.Printf("FAIL  %-12s %-10s %8s  %v\n", src.Name(), symbol, elapsed, err)
				continue
			}
			fmt.Printf("OK    %-12s %-10s %8s  price=%.2f conf=%.2f\n",
				src.Name(), symbol, elapsed, quote.Price, quote.Confidence)
		}
	}

	if cfg.Database.URL != "" {
		start := time.Now()
		db, err := postgres.Connect(cfg.Database.URL)
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			failures++
			fmt.Printf("FAIL  %-12s %-10s %8s  %v\n", "postgres", "-", elapsed, err)
		} else {
			fmt.Printf("OK    %-12s %-10s %8s\n", "postgres", "-", elapsed)
			db.Close()
		}
	}

	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		start := time.Now()
		mirror, err := redisstore.NewMirror(cfg.Redis.URL, cfg.Redis.TTL())
		if err == nil {
			err = mirror.Ping(ctx)
			mirror.Close()
		}
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			failures++
			fmt.Printf("FAIL  %-12s %-10s %8s  %v\n", "redis", "-", elapsed, err)
		} else {
			fmt.Printf("OK    %-12s %-10s %8s\n", "redis", "-", elapsed)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d probe(s) failed", failures)
	}
	return nil
}
