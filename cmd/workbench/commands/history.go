package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/store"
)

func newHistoryCommand(g *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded migration, export and restore runs",
		Example: `  workbench history
  workbench history show 5f0c...
  workbench history resource knowledge-base "Support FAQ"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, g, func(a *app, st *store.Store) error {
				runs, err := st.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				printRuns(a.out, runs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the full report of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, g, func(a *app, st *store.Store) error {
				report, err := st.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printReport(a.out, report)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resource <kind> <name>",
		Short: "Show every recorded outcome of one dataset or app",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := models.ParseKind(args[0])
			if !ok {
				return fmt.Errorf("unknown kind %q", args[0])
			}
			return withStore(cmd, g, func(a *app, st *store.Store) error {
				outcomes, err := st.ResourceHistory(cmd.Context(), kind, args[1])
				if err != nil {
					return err
				}
				if len(outcomes) == 0 {
					fmt.Fprintf(a.out, "No recorded runs for %s %q\n", kind, args[1])
					return nil
				}
				printOutcomes(a.out, outcomes)
				return nil
			})
		},
	})

	return cmd
}

func withStore(cmd *cobra.Command, g *globalFlags, fn func(*app, *store.Store) error) error {
	a, err := g.setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	st, err := store.Open(cmd.Context(), a.cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(a, st)
}
