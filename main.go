package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"starsea/config"
	"starsea/ctxlog"
)

var rootCmd = &cobra.Command{
	Use:   "starsea",
	Short: "Nested mesh solver for relativistic shallow water and compressible flow on a neutron star",
	Long: `starsea evolves a hierarchy of nested rectangular levels, each with its own
physical model: single layer or multilayer shallow water, compressible Euler,
or low Mach number compressible flow with optional helium burning.

Runs are described by a YAML or HCL parameter file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		format, _ := cmd.Flags().GetString("log-format")
		logger := ctxlog.New(level, format, os.Stderr)
		cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Parameter file (.yaml, .yml or .hcl)")

	rootCmd.AddCommand(runCmd, serveRankCmd, validateCmd)
}

// loadSettings reads the --config file and applies the flags that override
// it.
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Settings{}, fmt.Errorf("a parameter file is required (--config)")
	}
	s, err := config.Load(path)
	if err != nil {
		return config.Settings{}, err
	}

	flags := cmd.Flags()
	if flags.Lookup("device") != nil && flags.Changed("device") {
		s.Device, _ = flags.GetString("device")
	}
	if flags.Lookup("workers") != nil && flags.Changed("workers") {
		s.Workers, _ = flags.GetInt("workers")
	}
	if flags.Lookup("out") != nil && flags.Changed("out") {
		s.Out, _ = flags.GetString("out")
	}
	if flags.Lookup("serve") != nil && flags.Changed("serve") {
		s.Serve, _ = flags.GetString("serve")
	}
	return s, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
