// Package cmd defines the CLI commands for the article-monitor executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/app"
	"github.com/JakeFAU/article-monitor/internal/bitable"
	"github.com/JakeFAU/article-monitor/internal/config"
	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Service is the part of the application the commands drive. Tests swap in a
// fake through newService.
type Service interface {
	Run(ctx context.Context) error
	CrawlOnce(ctx context.Context) (crawler.Progress, error)
	SyncOnce(ctx context.Context) (bitable.Result, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

var newService = func(ctx context.Context, cfg config.Config) (Service, error) {
	return app.Build(ctx, cfg)
}

type rootOptions struct {
	cfgFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "article-monitor",
		Short: "Tracks article read counts across blogging platforms.",
		Long: `article-monitor crawls registered article URLs, extracts their read
counters and keeps a history of every value. It runs as an HTTP service
with an optional schedule, or performs a single crawl or spreadsheet sync.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "path to a YAML/JSON/TOML config file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCrawlCmd(opts))
	cmd.AddCommand(newSyncCmd(opts))
	return cmd
}

// loadService reads the configuration and builds the application.
func loadService(ctx context.Context, opts *rootOptions) (Service, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	svc, err := newService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize application: %w", err)
	}
	return svc, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
