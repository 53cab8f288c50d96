package tenantcmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-owner/apps/cli/cliapp"
	provisioningservice "github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/service"
	tenantshandler "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/handler"
	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
)

// Command groups tenant registry and provisioning helpers.
func Command(opts *cliapp.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant utilities (create, list, provision, status)",
	}

	cmd.AddCommand(createCommand(opts))
	cmd.AddCommand(listCommand(opts))
	cmd.AddCommand(provisionCommand(opts))
	cmd.AddCommand(statusCommand(opts))
	return cmd
}

func createCommand(opts *cliapp.Options) *cobra.Command {
	var (
		in                       tenantsservice.CreateInput
		region, nodeRef, planRef string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant and create its database space",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliapp.Context(cmd.Context())
			app, err := cliapp.Open(ctx, *opts)
			if err != nil {
				return err
			}
			defer app.Close()

			in.Region = optional(region)
			in.NodeRef = optional(nodeRef)
			in.PlanRef = optional(planRef)

			t, err := app.Tenants.Create(ctx, in)
			if err != nil {
				return fmt.Errorf("create tenant: %w", err)
			}
			return cliapp.PrintJSON(cmd.OutOrStdout(), tenantshandler.ToAPI(t))
		},
	}

	c.Flags().StringVar(&in.Slug, "slug", "", "Tenant slug")
	c.Flags().StringVar(&in.CompanyName, "company-name", "", "Company name")
	c.Flags().StringVar(&region, "region", "", "Deployment region")
	c.Flags().StringVar(&nodeRef, "node-ref", "", "Node reference")
	c.Flags().StringVar(&planRef, "plan-ref", "", "Plan reference")

	_ = c.MarkFlagRequired("slug")
	_ = c.MarkFlagRequired("company-name")

	return c
}

func listCommand(opts *cliapp.Options) *cobra.Command {
	var (
		page, pageSize int
		status         string
	)

	c := &cobra.Command{
		Use:   "list",
		Short: "List registered tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliapp.Context(cmd.Context())
			app, err := cliapp.Open(ctx, *opts)
			if err != nil {
				return err
			}
			defer app.Close()

			listOpts := tenantsservice.ListOptions{Page: page, PageSize: pageSize}
			if status != "" {
				s := tenantsservice.Status(status)
				listOpts.Status = &s
			}
			res, err := app.Tenants.List(ctx, listOpts)
			if err != nil {
				return err
			}
			items := make([]tenantshandler.Tenant, 0, len(res.Tenants))
			for _, t := range res.Tenants {
				items = append(items, tenantshandler.ToAPI(t))
			}
			return cliapp.PrintJSON(cmd.OutOrStdout(), items)
		},
	}

	c.Flags().IntVar(&page, "page", 1, "Page number")
	c.Flags().IntVar(&pageSize, "page-size", 20, "Page size")
	c.Flags().StringVar(&status, "status", "", "Filter by status")
	return c
}

type watchFlags struct {
	watch    bool
	interval time.Duration
	timeout  time.Duration
}

func (f *watchFlags) register(c *cobra.Command) {
	c.Flags().BoolVar(&f.watch, "watch", false, "Wait until provisioning reaches a terminal state")
	c.Flags().DurationVar(&f.interval, "interval", 10*time.Second, "Status query interval while watching")
	c.Flags().DurationVar(&f.timeout, "timeout", 30*time.Minute, "Give up watching after this long")
}

func provisionCommand(opts *cliapp.Options) *cobra.Command {
	var (
		force bool
		wf    watchFlags
	)

	c := &cobra.Command{
		Use:   "provision <tenant-id|slug>",
		Short: "Request a deployment for the tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliapp.Context(cmd.Context())
			app, err := cliapp.Open(ctx, *opts)
			if err != nil {
				return err
			}
			defer app.Close()

			t, err := app.ResolveTenant(ctx, args[0])
			if err != nil {
				return err
			}

			res, err := app.Provisioning.Provision(ctx, t.ID, force)
			if err != nil {
				return fmt.Errorf("provision tenant: %w", err)
			}
			if !wf.watch {
				return cliapp.PrintJSON(cmd.OutOrStdout(), res)
			}

			final, err := waitForTerminal(ctx, app.Provisioning, t.ID, wf, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return cliapp.PrintJSON(cmd.OutOrStdout(), final)
		},
	}

	c.Flags().BoolVar(&force, "force", false, "Ask the platform to redeploy even if current")
	wf.register(c)
	return c
}

func statusCommand(opts *cliapp.Options) *cobra.Command {
	var wf watchFlags

	c := &cobra.Command{
		Use:   "status <tenant-id|slug>",
		Short: "Show the last known provisioning status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cliapp.Context(cmd.Context())
			app, err := cliapp.Open(ctx, *opts)
			if err != nil {
				return err
			}
			defer app.Close()

			t, err := app.ResolveTenant(ctx, args[0])
			if err != nil {
				return err
			}

			var res provisioningservice.StatusResult
			if wf.watch {
				res, err = waitForTerminal(ctx, app.Provisioning, t.ID, wf, cmd.ErrOrStderr())
			} else {
				res, err = app.Provisioning.GetStatus(ctx, t.ID)
			}
			if err != nil {
				return err
			}
			return cliapp.PrintJSON(cmd.OutOrStdout(), res)
		},
	}

	wf.register(c)
	return c
}

// StatusQuerier is the provisioning status query.
type StatusQuerier interface {
	GetStatus(ctx context.Context, tenantID uuid.UUID) (provisioningservice.StatusResult, error)
}

// waitForTerminal re-queries status until the tenant settles or the timeout
// expires. Each change is reported on progress.
func waitForTerminal(ctx context.Context, q StatusQuerier, tenantID uuid.UUID, wf watchFlags, progress io.Writer) (provisioningservice.StatusResult, error) {
	if wf.interval <= 0 {
		wf.interval = 10 * time.Second
	}
	if wf.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wf.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(wf.interval)
	defer ticker.Stop()

	var last string
	for {
		res, err := q.GetStatus(ctx, tenantID)
		if err != nil {
			return res, err
		}
		if line := res.Status + "/" + res.TenantStatus; line != last {
			fmt.Fprintf(progress, "%s  status=%s step=%s tenant=%s\n",
				time.Now().UTC().Format(time.RFC3339), res.Status, res.Step, res.TenantStatus)
			last = line
		}
		if settled(res) {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return res, fmt.Errorf("stopped watching: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func settled(res provisioningservice.StatusResult) bool {
	switch tenantsservice.Status(res.TenantStatus) {
	case tenantsservice.StatusActive, tenantsservice.StatusProvisionFailed, tenantsservice.StatusDisabled:
		return true
	}
	return res.Status == provisioningservice.StatusExhausted || res.Status == provisioningservice.StatusNotStarted
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
