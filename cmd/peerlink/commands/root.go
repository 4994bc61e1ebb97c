// Package commands implements the peerlink command line.
package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/peerlink/config"
)

// global flags
type rootOptions struct {
	configPath string
	logLevel   string

	cfg *config.Config
}

// NewRootCmd builds the peerlink command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "peerlink",
		Short:         "NAT detection, transport selection and connection health for P2P peers",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
			}
			logrus.SetLevel(level)

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newNATCmd(opts),
		newPlanCmd(opts),
		newConfigCmd(opts),
		newDemoCmd(opts),
	)
	return cmd
}
