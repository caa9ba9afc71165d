package main

import (
	"fmt"

	"github.com/ianterrell/dmc/internal/potential"
	"github.com/spf13/cobra"
)

var potentialDescriptions = map[string]string{
	potential.NameHarmonic: "V(x) = x^2/2, exact E0 = 0.5",
	potential.NameIdentity: "V(x) = x, unbounded below (diagnostic)",
}

func newPotentialsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "potentials",
		Short: "List available potentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := potential.Names()
			if jsonOutput(cmd) {
				list := make([]map[string]string, 0, len(names))
				for _, n := range names {
					list = append(list, map[string]string{
						"name":        n,
						"description": potentialDescriptions[n],
					})
				}
				return writeJSON(cmd.OutOrStdout(), list)
			}
			for _, n := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", n, potentialDescriptions[n])
			}
			return nil
		},
	}
}
