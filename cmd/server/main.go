package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rpattn/sitepolygons/internal/config"
	"github.com/rpattn/sitepolygons/internal/logging"
)

func main() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// options are shared by every subcommand.
type options struct {
	configPath string
	cfg        config.Config
}

func rootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "sitepolygons",
		Short:         "Site polygon ingestion and versioning service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			logging.Setup(cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "directory containing config.yaml")

	root.AddCommand(
		serveCommand(opts),
		migrateCommand(opts),
		importCommand(opts),
	)
	return root
}
