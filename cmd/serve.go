package cmd

import (
	"github.com/spf13/cobra"

	"github.com/soccerdata/tmfetch/internal/api"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the observability endpoints (health, stats, metrics).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := buildStack()
			if err != nil {
				return err
			}
			defer func() { _ = s.logger.Sync() }()

			server := api.NewServer(s.mon, s.sessions, s.logger)
			return server.Run(cmd.Context(), s.cfg.Server.Port)
		},
	}
}
