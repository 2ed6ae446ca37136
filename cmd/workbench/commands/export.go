package commands

import (
	"github.com/spf13/cobra"

	"github.com/rflorenc/dify-migration-workbench/internal/migration"
)

func newExportCommand(g *globalFlags) *cobra.Command {
	var (
		dir    string
		format string
		kinds  []string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Back up every source's datasets and apps to a directory",
		Long: `Export writes one file per dataset (documents and segments included) and one
per app (DSL included) for every source. The target is not contacted.
The directory can later be imported with 'restore'.`,
		Example: `  workbench export --dir backups/2024-06-01
  workbench export --format yaml --kinds workflow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			o, err := a.cfg.MigrationOptions()
			if err != nil {
				return err
			}
			if o.Kinds, err = parseKinds(kinds); err != nil {
				return err
			}
			if dir == "" {
				dir = a.cfg.ExportDir
			}

			ctx := cmd.Context()
			report, err := migration.Export(ctx, o, migration.ExportOptions{Dir: dir, Format: format}, a.deps())
			a.record(ctx, "export", report)
			if report != nil {
				printReport(a.out, report)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "output directory (default export_dir from config)")
	cmd.Flags().StringVarP(&format, "format", "f", migration.FormatJSON, "file format: json or yaml")
	cmd.Flags().StringSliceVarP(&kinds, "kinds", "k", nil, "lanes to export (default all)")
	return cmd
}
