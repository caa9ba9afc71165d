package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ianterrell/dmc/internal/export"
	"github.com/ianterrell/dmc/internal/store"
	"github.com/spf13/cobra"
)

var errNoRuns = errors.New("no runs recorded")

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
		Long: `List, show, export and delete runs recorded with 'dmc run --record'.

Runs are stored in <output.dir>/runs.db.

Examples:
  dmc runs list                      # newest first
  dmc runs show run-1712345678901    # parameters and outcome
  dmc runs export run-1712345678901 --out history.arrow
  dmc runs prune --keep 20 --max-age 30d   # keep 20 newest plus last 30 days`,
	}

	cmd.PersistentFlags().String("output-dir", "", "Directory holding runs.db (default from config)")

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsExportCmd(),
		newRunsDeleteCmd(),
		newRunsPruneCmd(),
	)

	return cmd
}

// openRunStore opens the run database named by config and --output-dir.
// If mustExist is set and there is no database yet, it returns nil.
func openRunStore(cmd *cobra.Command, mustExist bool) (*store.SQLiteRunStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
		cfg.Output.Dir = dir
	}

	path := cfg.Output.DatabasePath()
	if mustExist {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, nil
		}
	}

	s, err := store.NewSQLiteRunStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening run database: %w", err)
	}
	return s, nil
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			s, err := openRunStore(cmd, true)
			if err != nil {
				return err
			}
			runs := []store.RunRecord{}
			if s != nil {
				defer s.Close()
				if runs, err = s.ListRuns(cmd.Context(), limit); err != nil {
					return err
				}
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"runs":  runs,
					"count": len(runs),
				})
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			printRunTable(out, runs)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")
	return cmd
}

func printRunTable(w io.Writer, runs []store.RunRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tPOTENTIAL\tWALKERS\tITER\tSTATUS\tE0\tLABEL")
	for _, r := range runs {
		e0 := "-"
		iters := "-"
		if r.Summary != nil {
			e0 = fmt.Sprintf("%.5f", r.Summary.E0)
			iters = fmt.Sprintf("%d", r.Summary.Iterations)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.CreatedAt.Format(time.DateTime), r.Potential, r.Params.Walkers,
			iters, r.Status, e0, r.Label)
	}
	tw.Flush()
}

func newRunsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tail, _ := cmd.Flags().GetInt("tail")

			s, err := openRunStore(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			run, err := s.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			rows, err := s.Iterations(ctx, run.ID)
			if err != nil {
				return err
			}
			if tail >= 0 && len(rows) > tail {
				rows = rows[len(rows)-tail:]
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"run":        run,
					"iterations": rows,
				})
			}

			out := cmd.OutOrStdout()
			p := run.Params
			fmt.Fprintf(out, "Run:        %s\n", run.ID)
			if run.Label != "" {
				fmt.Fprintf(out, "Label:      %s\n", run.Label)
			}
			fmt.Fprintf(out, "Created:    %s\n", run.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Status:     %s\n", run.Status)
			fmt.Fprintf(out, "Potential:  %s\n", run.Potential)
			fmt.Fprintf(out, "Walkers:    %d\n", p.Walkers)
			fmt.Fprintf(out, "dtau:       %g\n", p.TimeStep)
			fmt.Fprintf(out, "alpha:      %g\n", p.Alpha)
			fmt.Fprintf(out, "E_R(0):     %g (hold %v)\n", p.RefEnergy, p.HoldRefEnergy)
			fmt.Fprintf(out, "Seed:       %d\n", p.Seed)
			fmt.Fprintf(out, "Init:       %s (%g, %g)\n", p.Init, p.InitA, p.InitB)
			fmt.Fprintf(out, "Plan:       %d iterations, warm-up %d\n", run.Iterations, run.Warmup)
			if sum := run.Summary; sum != nil {
				fmt.Fprintln(out)
				fmt.Fprintf(out, "Finished:   %s\n", sum.FinishedAt.Format(time.RFC3339))
				fmt.Fprintf(out, "Iterations: %d\n", sum.Iterations)
				fmt.Fprintf(out, "E0:         %.6f +/- %.6f\n", sum.E0, sum.StdErr)
				fmt.Fprintf(out, "Walkers:    %d at tau %g\n", sum.FinalSize, sum.FinalTime)
				if sum.Collapsed {
					fmt.Fprintln(out, "Population collapsed.")
				}
			}

			if len(rows) > 0 {
				fmt.Fprintln(out)
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ITER\tTAU\tWALKERS\tE_R\tBIRTHS\tDEATHS")
				for _, r := range rows {
					fmt.Fprintf(tw, "%d\t%g\t%d\t%.6f\t%d\t%d\n", r.Index, r.Time, r.Size, r.RefEnergy, r.Births, r.Deaths)
				}
				tw.Flush()
			}
			return nil
		},
	}
	cmd.Flags().Int("tail", 10, "Show the last N iterations (-1 = all)")
	return cmd
}

func newRunsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a run's iteration history as an Arrow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outPath, _ := cmd.Flags().GetString("out")
			if outPath == "" {
				outPath = args[0] + ".arrow"
			}

			s, err := openRunStore(cmd, true)
			if err != nil {
				return err
			}
			if s == nil {
				return errNoRuns
			}
			defer s.Close()

			rows, err := s.Iterations(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			err = export.WriteFile(outPath, func(w io.Writer) error {
				return export.WriteHistory(w, rows)
			})
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"run_id": args[0],
					"path":   outPath,
					"rows":   len(rows),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d iterations to %s\n", len(rows), outPath)
			return nil
		},
	}
	cmd.Flags().StringP("out", "o", "", "Output file (default <id>.arrow)")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recorded run and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openRunStore(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"deleted": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newRunsPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old recorded runs",
		Long: `Delete recorded runs outside the retention policy.

A run is kept if it is among the --keep newest or younger than --max-age.
Runs still marked running are never deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, _ := cmd.Flags().GetInt("keep")
			maxAge, _ := cmd.Flags().GetString("max-age")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			if keep < 0 {
				return fmt.Errorf("invalid --keep %d: must be non-negative", keep)
			}

			policy := &store.CompositePolicy{Policies: []store.RetentionPolicy{
				&store.CountPolicy{MaxCount: keep},
			}}
			if maxAge != "" {
				d, err := store.ParseDuration(maxAge)
				if err != nil {
					return fmt.Errorf("invalid --max-age: %w", err)
				}
				policy.Policies = append(policy.Policies, &store.AgePolicy{MaxAge: d})
			}

			s, err := openRunStore(cmd, true)
			if err != nil {
				return err
			}
			var deleted []string
			if s != nil {
				defer s.Close()
				if deleted, err = store.PruneRuns(cmd.Context(), s, policy, dryRun); err != nil {
					return err
				}
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"deleted": deleted,
					"dry_run": dryRun,
				})
			}
			verb := "Deleted"
			if dryRun {
				verb = "Would delete"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d run(s)\n", verb, len(deleted))
			for _, id := range deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().Int("keep", 20, "Number of newest runs to keep")
	cmd.Flags().String("max-age", "", "Also keep runs younger than this (e.g. 72h, 30d, 2w)")
	cmd.Flags().Bool("dry-run", false, "Report what would be deleted without deleting")
	return cmd
}
