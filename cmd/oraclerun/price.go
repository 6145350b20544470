package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/oraclerun/internal/oracle/engine"
	"github.com/sawpanic/oraclerun/internal/persistence"
)

const priceTimeout = 15 * time.Second

// runPrice performs one full aggregation tick against the live upstreams,
// backed by an in-memory history store, and prints the validated price.
func runPrice(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	symbol := "BTC/USD"
	if len(args) > 0 {
		symbol = strings.ToUpper(args[0])
	}

	sources, err := buildSources(cfg)
	if err != nil {
		return err
	}

	eng := engine.New(engineConfig(cfg), sources, persistence.NewMemoryRepo(), nil, nil)
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), priceTimeout)
	defer cancel()

	price, err := eng.ValidatedPrice(ctx, symbol)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(price, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
