// Package cmd defines the conciliador command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cfdi-reconciler/cmd/conciliador/config"
	"cfdi-reconciler/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "conciliador",
	Short: "Concilia movimientos bancarios contra CFDI",
	Long: `conciliador reconciles bank-statement movements against a company's
CFDI records for a given month, assigning each movement to at most one
invoice with a confidence score or leaving it pending for manual review.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.LoggerConfig())
		if err != nil {
			return err
		}
		logger.SetGlobal(log)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
}
