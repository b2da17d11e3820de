package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/protoreg/internal/metrics"
	"github.com/sawpanic/protoreg/internal/monitor"
	"github.com/sawpanic/protoreg/internal/persistence"
	"github.com/sawpanic/protoreg/internal/persistence/postgres"
)

func newServeCmd() *cobra.Command {
	var ov *overrides
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring server on its own",
		Long:  "Serves /health (including database health when configured), /metrics and /progress until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, ov)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = cfg.Monitor.Addr
			}
			if addr == "" {
				addr = "127.0.0.1:9102"
			}

			var health persistence.RepositoryHealth
			if cfg.Database.Enabled {
				mgr, err := postgres.Open(cmd.Context(), cfg.Database)
				if err != nil {
					return err
				}
				defer mgr.Close()
				health = mgr.Health()
			}

			srv := monitor.NewServer(addr, metrics.NewRegistry(), monitor.NewHub(log.Logger), health, log.Logger)
			return srv.Start(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address (default: monitor.addr or 127.0.0.1:9102)")
	ov = newDatabaseOverrides(cmd.Flags())
	return cmd
}
