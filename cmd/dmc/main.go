package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ianterrell/dmc/internal/config"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dmc",
		Short: "Diffusion Monte Carlo for one-dimensional potentials",
		Long: `dmc estimates the ground-state energy and wavefunction of a particle in
a one-dimensional potential by diffusion Monte Carlo.

A population of walkers diffuses in imaginary time and branches according
to the local potential; a feedback-controlled reference energy keeps the
population near its target size and converges to the ground-state energy.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.dmc/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug, trace")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newRunsCmd(),
		newConfigCmd(),
		newPotentialsCmd(),
	)

	return rootCmd
}

// loadConfig loads the config named by --config (or the default location)
// and applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.DMCConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPath(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	jsonOut, _ := cmd.Flags().GetBool("json")
	return jsonOut
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
