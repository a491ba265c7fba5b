package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"synapseqc/internal/logging"
	"synapseqc/pkg/config"
)

var (
	cfgFile string
	verbose bool
	dataset string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "synapseqc",
	Short: "Quality control and feature extraction for annotated EM synapses",
	Long: `synapseqc checks annotated synapse sub-volumes for structural annotation
errors, extracts per-synapse intensity and vesicle features, and groups the
features by annotator or neurotransmitter type.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == initConfigCmd.Name() {
			return nil
		}
		var err error
		cfg, err = config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Output.Verbose = true
		}
		if dataset != "" {
			cfg.Dataset.Path = dataset
		}
		logging.Setup(cfg.LoggingConfig())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Shutdown()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "synapseqc.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataset, "dataset", "", "zarr container of annotated synapses (overrides config)")

	rootCmd.AddCommand(checkCmd, extractCmd, groupCmd, duplicatesCmd, initConfigCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// fileSize formats the size of a written file for the summary lines
func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "unknown size"
	}
	return humanize.Bytes(uint64(info.Size()))
}
