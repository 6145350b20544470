package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/oraclerun/internal/config"
)

const (
	appName = "oraclerun"
	version = "v1.0.0"
)

func main() {
	setupLogging("info")

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-source price oracle for derivatives pricing",
		Version: version,
		Long: `OracleRun aggregates Pyth and Switchboard feeds into a single
manipulation-resistant mark price per symbol, persists every aggregation,
and serves REST, WebSocket and Prometheus surfaces on top.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("symbols", "", "Override monitored symbols (comma-separated, e.g. BTC/USD,ETH/USD)")
	rootCmd.PersistentFlags().String("log-level", "", "Override log level (trace|debug|info|warn|error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the aggregation service",
		Long:  "Starts continuous price monitoring and the HTTP/WebSocket API.",
		RunE:  runServe,
	}
	addListenFlags(serveCmd.Flags())

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe upstream and storage connectivity",
		Long:  "Fetches one quote per source and symbol and pings the configured stores.",
		RunE:  runProbe,
	}

	priceCmd := &cobra.Command{
		Use:   "price [symbol]",
		Short: "Fetch one validated price and print it as JSON",
		Long:  "Runs a single aggregation tick against the live upstreams without a database.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPrice,
	}

	rootCmd.AddCommand(serveCmd, probeCmd, priceCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func addListenFlags(fs *pflag.FlagSet) {
	fs.String("host", "", "Override listen host")
	fs.Int("port", 0, "Override listen port")
}

// setupLogging configures zerolog globally: pretty console output on a
// TTY, structured JSON otherwise.
func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// loadConfig resolves the configuration for one command invocation and
// re-applies the log level it selects.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if raw, _ := cmd.Flags().GetString("symbols"); raw != "" {
		cfg.Oracle.Symbols = config.SplitSymbols(raw)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	setupLogging(cfg.Log.Level)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return cfg, nil
}
