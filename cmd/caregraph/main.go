// caregraph moves clinical records from the relational warehouse into the
// Neo4j knowledge graph, enriching designated text fields with embeddings
// and recording every run in the ledger.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arthurhealth/caregraph-etl/internal/config"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
)

var (
	flagConfig  string
	flagLogMode string
)

func main() {
	root := &cobra.Command{
		Use:           "caregraph",
		Short:         "warehouse-to-graph ETL for the care delivery knowledge graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file merged under CAREGRAPH_* env")
	root.PersistentFlags().StringVar(&flagLogMode, "log-mode", "dev", "log encoder: dev or prod")

	root.AddCommand(newRunCmd())
	root.AddCommand(newWatermarkCmd())
	root.AddCommand(newMigrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "caregraph:", err)
		os.Exit(1)
	}
}

// bootstrap loads config and builds the base logger; every subcommand starts
// here.
func bootstrap() (*config.Config, *logger.Logger, error) {
	log, err := logger.New(flagLogMode)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
