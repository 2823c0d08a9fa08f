package cmd

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/soccerdata/tmfetch/internal/config"
)

func newStatsCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the JSON stats snapshot of a running serve instance.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				cfg, err := config.Load(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				addr = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
			}

			resp, err := resty.New().R().
				SetContext(cmd.Context()).
				Get(addr + "/stats")
			if err != nil {
				return fmt.Errorf("query stats: %w", err)
			}
			if resp.IsError() {
				return fmt.Errorf("stats endpoint returned status %d", resp.StatusCode())
			}
			_, err = cmd.OutOrStdout().Write(resp.Body())
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "base URL of the serve instance (default http://127.0.0.1:$STATS_PORT)")
	return cmd
}
