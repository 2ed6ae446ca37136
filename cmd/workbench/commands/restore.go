package commands

import (
	"github.com/spf13/cobra"

	"github.com/rflorenc/dify-migration-workbench/internal/migration"
)

func newRestoreCommand(g *globalFlags) *cobra.Command {
	var lf laneFlags

	cmd := &cobra.Command{
		Use:   "restore <dir>",
		Short: "Import a backup directory into the target",
		Long: `Restore reads a directory written by 'export' and imports it into the target
through the same lanes, name matching and reporting as 'migrate'.
The configured sources are not contacted.`,
		Example: `  workbench restore backups/2024-06-01
  workbench restore backups/2024-06-01 --kinds knowledge-base --report restore.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			o, err := lf.options(cmd, a)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			report, err := migration.Restore(ctx, o, args[0], a.deps())
			a.record(ctx, "restore", report)
			if report != nil {
				printReport(a.out, report)
			}
			if werr := lf.writeReport(report); werr != nil {
				a.log.Error().Err(werr).Msg("failed to write report")
			}
			return err
		},
	}

	lf.register(cmd)
	return cmd
}
