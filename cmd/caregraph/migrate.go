package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/arthurhealth/caregraph-etl/internal/data/db"
	"github.com/arthurhealth/caregraph-etl/internal/data/graph"
	"github.com/arthurhealth/caregraph-etl/internal/modules"
	"github.com/arthurhealth/caregraph-etl/internal/platform/neo4jdb"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create the owned ledger tables and initialize graph constraints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			gdb, err := db.Open(cfg.LedgerDSN(), log)
			if err != nil {
				return err
			}
			if err := db.AutoMigrateAll(gdb); err != nil {
				return err
			}
			log.Info("ledger tables migrated")

			// Graph schema init is best-effort and optional here; a run does
			// it again before loading.
			client, err := neo4jdb.New(cfg.Graph, log)
			if err != nil {
				log.Warn("graph unavailable; skipping constraint init (continuing)", "error", err)
				return nil
			}
			if client == nil {
				log.Info("no graph configured; skipping constraint init")
				return nil
			}
			defer client.Close(context.Background())

			loader, err := graph.NewLoader(client, cfg.Pipeline.ExtractionSource, log)
			if err != nil {
				return err
			}
			loader.EnsureSchema(cmd.Context(), modules.NodeMappings())
			log.Info("graph constraints ensured")
			return nil
		},
	}
}
