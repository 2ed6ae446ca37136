package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rflorenc/dify-migration-workbench/internal/migration"
	"github.com/rflorenc/dify-migration-workbench/internal/models"
)

func newListCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [kind]",
		Short: "List the datasets or apps of every source and of the target",
		Example: `  workbench list
  workbench list knowledge-base
  workbench list workflow`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := models.Kinds
			if len(args) == 1 {
				k, ok := models.ParseKind(args[0])
				if !ok {
					return fmt.Errorf("unknown kind %q", args[0])
				}
				kinds = []models.Kind{k}
			}

			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			o, err := a.cfg.MigrationOptions()
			if err != nil {
				return err
			}

			for _, k := range kinds {
				listings, err := migration.List(cmd.Context(), o, k, a.deps())
				if err != nil {
					if len(kinds) == 1 {
						return err
					}
					a.log.Warn().Err(err).Msg("skipping listing")
					continue
				}
				printListings(a.out, k, listings)
			}
			return nil
		},
	}
	return cmd
}
