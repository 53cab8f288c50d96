package bootstrap

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/apps/cli/cliapp"
	"github.com/zenGate-Global/palmyra-owner/platform/go/persistence"
)

// Command groups bootstrap helpers.
func Command(opts *cliapp.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap platform resources",
	}
	cmd.AddCommand(platformCommand(opts))
	return cmd
}

func platformCommand(opts *cliapp.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "platform",
		Short: "Create the admin schema and apply the platform DDL",
		Long: "Creates the admin schema if missing and applies the tenant registry, provisioning audit, " +
			"deployment watch and role template tables. Safe to run repeatedly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pool, logger, err := cliapp.Connect(ctx, *opts)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)
			defer func() { _ = logger.Sync() }()

			schema := opts.AdminSchema()
			if err := persistence.BootstrapAdminSchema(ctx, pool, schema); err != nil {
				return err
			}
			logger.Info("platform schema bootstrapped", zap.String("schema", schema))

			fmt.Fprintf(cmd.OutOrStdout(), "Bootstrap complete. Admin schema: %s\n", schema)
			return nil
		},
	}
}
