package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a parameter file without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		if err := s.Validate(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d levels, %dx%d coarse cells, %d steps\n", len(s.Levels), s.Nx, s.Ny, s.Nt)
		for k, l := range s.Levels {
			nz := max(l.Nz, 1)
			fmt.Fprintf(out, "  level %d: model %s, %d layers, print %v\n", k, l.Model, nz, l.Print)
		}
		return nil
	},
}
