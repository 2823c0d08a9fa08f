package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newFetchCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch one URL through the resilience layer and print the raw content.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack()
			if err != nil {
				return err
			}
			defer func() { _ = s.logger.Sync() }()

			page, err := s.client.Fetch(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("fetch %s: %w", args[0], err)
			}

			s.logger.Info("fetched page",
				zap.String("url", page.URL),
				zap.Int("status", page.StatusCode),
				zap.Int("bytes", len(page.Body)),
				zap.Duration("duration", page.Duration),
				zap.Bool("browser", page.UsedBrowser),
			)

			if outPath != "" {
				if err := os.WriteFile(outPath, page.Body, 0o644); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
				return nil
			}
			_, err = cmd.OutOrStdout().Write(page.Body)
			return err
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write the fetched body to a file instead of stdout")
	return cmd
}
