package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"argus/internal/config"
	"argus/internal/logging"
	"argus/internal/metrics"
)

// Exit codes: 0 when every unit passed, 2 when some verdict or gate did not,
// 1 for anything else.
const exitNotPassing = 2

var errNotPassing = errors.New("not every unit passed")

var (
	rootCmd = &cobra.Command{
		Use:   "argus",
		Short: "Fail-closed formal verification of Python functions",
		Long: `Argus derives obligations for each Python function, translates it to Lean or
Dafny, runs the proof compiler and reports one of VERIFIED, FIXED, VULNERABLE,
UNVERIFIED or ERROR. Anything it cannot prove is never reported as passing.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if metricsFile != "" {
				if err := metrics.WriteTextfile(metricsFile); err != nil {
					return fmt.Errorf("failed to write metrics: %w", err)
				}
			}
			return nil
		},
	}

	configPath  string
	verbose     bool
	metricsFile string

	cfg    *config.Config
	logger = zap.NewNop()
)

func main() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err == nil {
		return
	}
	if errors.Is(err, errNotPassing) {
		os.Exit(exitNotPassing)
	}
	fmt.Fprintln(os.Stderr, "argus:", err)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(changedCmd)
	rootCmd.AddCommand(gatesCmd)
	rootCmd.AddCommand(traceCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err = logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Verbose:     verbose,
	})
	return err
}
