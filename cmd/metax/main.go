// Command metax runs the metadata catalog API and its maintenance jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"metax/internal/config"
	"metax/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "metax",
		Short:         "Research dataset metadata catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("METAX_CONFIG"), "Path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newRetrySyncCmd(opts),
		newMigrateCmd(opts),
		newImportRefdataCmd(opts),
		newPublishREMSCmd(opts),
	)
	return cmd
}

// load reads and validates the configuration and builds the logger.
func (o *rootOptions) load() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

// open builds the services for a one-shot command. Dispatched work runs
// inline so it finishes before the command exits.
func (o *rootOptions) open(ctx context.Context) (*app, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, err
	}
	cfg.Tasks.Background = false
	return newApp(ctx, cfg, log)
}
