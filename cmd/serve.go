package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the crawl schedule",
		Long: `Starts the HTTP API and, when schedule.enabled is set, periodic crawls.
SIGINT or SIGTERM stops admitting work, waits for the active run and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := loadService(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return svc.Run(cmd.Context())
		},
	}
}
