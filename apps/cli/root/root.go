package root

import (
	"context"
	"errors"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-owner/apps/cli/cliapp"
)

// NewCommand builds the palmyra-owner command tree. opts carries the
// environment defaults; the persistent flags override them.
func NewCommand(opts *cliapp.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "palmyra-owner",
		Short:         "Palmyra owner CLI",
		Long:          "Operator utilities for the owner platform (bootstrap, tenants, provisioning, role templates, dev tokens).",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.DatabaseURL, "database-url", opts.DatabaseURL, "PostgreSQL connection string (DATABASE_URL)")
	flags.StringVar(&opts.EnvKey, "env-key", opts.EnvKey, "Environment key prefix, e.g. dev, stg, prod (ENV_KEY)")
	flags.StringVar(&opts.AdminTenantSlug, "admin-tenant-slug", opts.AdminTenantSlug, "Slug whose schema holds the platform tables (ADMIN_TENANT_SLUG)")
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level written to stderr (LOG_LEVEL)")

	addCommands(cmd, opts)
	return cmd
}

// Execute loads .env and the environment, then runs the CLI.
func Execute(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	opts, err := cliapp.LoadOptions()
	if err != nil {
		return err
	}
	return NewCommand(&opts).ExecuteContext(ctx)
}
