package templatescmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-owner/apps/cli/cliapp"
	templatesservice "github.com/zenGate-Global/palmyra-owner/domains/templates/be/service"
)

// Command groups role template helpers.
func Command(opts *cliapp.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Role template utilities (import, apply, version)",
	}

	cmd.AddCommand(importCommand(opts))
	cmd.AddCommand(applyCommand(opts))
	cmd.AddCommand(versionCommand(opts))
	return cmd
}

func importCommand(opts *cliapp.Options) *cobra.Command {
	var in templatesservice.ImportInput

	c := &cobra.Command{
		Use:   "import",
		Short: "Store a role template read from a file, gs:// or s3:// object",
		Long: "Reads a JSON or YAML template document, validates it and stores it under the key. " +
			"Without --version the stored version is bumped by one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliapp.Context(cmd.Context())
			app, err := cliapp.Open(ctx, *opts)
			if err != nil {
				return err
			}
			defer app.Close()

			tmpl, err := app.Templates.ImportTemplate(ctx, in)
			if err != nil {
				return fmt.Errorf("import template: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s version %d\n", tmpl.Key, tmpl.Version)
			return nil
		},
	}

	c.Flags().StringVar(&in.URI, "uri", "", "Template location (path, file://, gs:// or s3://)")
	c.Flags().StringVar(&in.Key, "key", templatesservice.DefaultTemplateKey, "Template key")
	c.Flags().IntVar(&in.Version, "version", 0, "Explicit version; 0 bumps the stored one")

	_ = c.MarkFlagRequired("uri")

	return c
}

func applyCommand(opts *cliapp.Options) *cobra.Command {
	var (
		tenantRef string
		key       string
		additive  bool
	)

	c := &cobra.Command{
		Use:   "apply",
		Short: "Sync a tenant's roles and permissions to the stored template",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliapp.Context(cmd.Context())
			app, err := cliapp.Open(ctx, *opts)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, _, err = app.TenantContext(ctx, tenantRef)
			if err != nil {
				return err
			}

			overwrite := !additive
			res, err := app.Templates.ApplyTemplate(ctx, templatesservice.ApplyInput{Key: key, Overwrite: &overwrite})
			if err != nil {
				return fmt.Errorf("apply template: %w", err)
			}
			return cliapp.PrintJSON(cmd.OutOrStdout(), res)
		},
	}

	c.Flags().StringVar(&tenantRef, "tenant", "", "Tenant id or slug")
	c.Flags().StringVar(&key, "key", templatesservice.DefaultTemplateKey, "Template key")
	c.Flags().BoolVar(&additive, "additive", false, "Only grant; keep permissions the template no longer lists")

	_ = c.MarkFlagRequired("tenant")

	return c
}

func versionCommand(opts *cliapp.Options) *cobra.Command {
	var tenantRef string

	c := &cobra.Command{
		Use:   "version",
		Short: "Show the template version last applied to a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliapp.Context(cmd.Context())
			app, err := cliapp.Open(ctx, *opts)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, t, err := app.TenantContext(ctx, tenantRef)
			if err != nil {
				return err
			}

			version, err := app.Templates.GetTemplateVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", t.Slug, version)
			return nil
		},
	}

	c.Flags().StringVar(&tenantRef, "tenant", "", "Tenant id or slug")
	_ = c.MarkFlagRequired("tenant")

	return c
}
