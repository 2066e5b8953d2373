package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"beamcombine/internal/logging"
	"beamcombine/pkg/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	cfg    *config.Config
	logger *slog.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beamcombine",
		Short: "Beamline image combination with cosmic-ray removal",
		Long: `beamcombine processes sequences of 2D detector images from numbered
measurement folders: it detects and removes cosmic-ray spikes using local
statistics, averages corresponding images across each measurement group,
and hands combined images to the external azimuthal integrator.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("log-level") {
				logLevel = cfg.Logging.Level
			}
			if !cmd.Flags().Changed("log-format") {
				logFormat = cfg.Logging.Format
			}
			logger = logging.New(logLevel, logFormat)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config-file", "beamcombine.yaml",
		"YAML file with default parameters (optional)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"log format: text or json")

	cmd.AddCommand(newCombineCmd())
	cmd.AddCommand(newCosmicCmd())
	cmd.AddCommand(newIntegrateCmd())

	return cmd
}
