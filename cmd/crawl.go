package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const closeTimeout = 30 * time.Second

func newCrawlCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every registered article once",
		Long: `Runs one full crawl over the stored targets and prints the final
progress as JSON. An interrupt stops admission; in-flight targets finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := loadService(ctx, opts)
			if err != nil {
				return err
			}
			defer closeService(svc)

			final, runErr := svc.CrawlOnce(ctx)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("crawl: %w", runErr)
			}
			return printJSON(cmd, final)
		},
	}
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync read counts with the configured Bitable table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := loadService(ctx, opts)
			if err != nil {
				return err
			}
			defer closeService(svc)

			result, err := svc.SyncOnce(ctx)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			return printJSON(cmd, result)
		},
	}
}

func closeService(svc Service) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		svc.Logger().Warn("shutdown incomplete", zap.Error(err))
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
