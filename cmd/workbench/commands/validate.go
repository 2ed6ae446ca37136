package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rflorenc/dify-migration-workbench/internal/platform"
)

func newValidateCommand(g *globalFlags) *cobra.Command {
	var checkAuth bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and optionally test every endpoint",
		Long: `Validate the configuration (file, .env and environment).

With --check-auth every source and the target are contacted:
  - the knowledge API key is checked by listing one dataset
  - console credentials, when set, are checked by logging in`,
		Example: `  workbench validate --config config.yaml
  workbench validate --check-auth`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			fmt.Fprintf(a.out, "Configuration OK: %d source(s), workflow lane enabled: %v\n",
				len(a.cfg.Sources), a.cfg.WorkflowEnabled())
			if !checkAuth {
				return nil
			}

			o, err := a.cfg.MigrationOptions()
			if err != nil {
				return err
			}
			var results []platform.Health
			for _, ep := range append(o.Sources, o.Target) {
				results = append(results, platform.CheckEndpoint(cmd.Context(), ep, o.Client))
			}
			printHealth(a.out, results)
			for _, h := range results {
				if !h.OK() {
					return fmt.Errorf("endpoint %s failed its checks", h.Label)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkAuth, "check-auth", false, "contact every endpoint and verify its credentials")
	return cmd
}
