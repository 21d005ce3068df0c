package cmd

import (
	stdcontext "context"
	"fmt"
	"text/tabwriter"

	"github.com/shawn/chat-relay/internal/cli/api"
	"github.com/shawn/chat-relay/internal/cli/output"
	"github.com/spf13/cobra"
)

func newTenantListCmd(client api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), requestTimeout)
			defer cancel()

			tenants, err := client.ListTenants(ctx)
			if err != nil {
				styler := output.NewStyler(noColor)
				styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to list tenants: %v", err))
				return err
			}

			if outputFormat == "json" {
				jsonStr, err := output.FormatJSON(tenants)
				if err != nil {
					return fmt.Errorf("failed to format output: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), jsonStr)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT ID\tNAME\tUSERNAME\tMAX SESSIONS\tWEBHOOK")
			for _, t := range tenants {
				webhook := t.WebhookURL
				if webhook == "" {
					webhook = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.ID, t.Name, t.Username, t.MaxSessions, webhook)
			}
			return w.Flush()
		},
	}
}

func newTenantGetCmd(client api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenant-id>",
		Short: "Get tenant details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), requestTimeout)
			defer cancel()

			tenant, err := client.GetTenant(ctx, args[0])
			if err != nil {
				styler := output.NewStyler(noColor)
				styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to get tenant: %v", err))
				return err
			}
			return printTenant(cmd.OutOrStdout(), tenant)
		},
	}
}

func newTenantPasswordCmd(client api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "set-password <tenant-id> <password>",
		Short: "Reset a tenant's dashboard password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := args[0]
			styler := output.NewStyler(noColor)

			ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), requestTimeout)
			defer cancel()

			if err := client.SetPassword(ctx, tenantID, args[1]); err != nil {
				styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to set password: %v", err))
				return err
			}
			styler.FprintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Password for '%s' updated", tenantID))
			return nil
		},
	}
}

func newTenantDeleteCmd(client api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Delete a tenant and stop its sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := args[0]
			styler := output.NewStyler(noColor)
			styler.FprintInfo(cmd.OutOrStdout(), fmt.Sprintf("Deleting tenant '%s'...", tenantID))

			ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), requestTimeout)
			defer cancel()

			if err := client.DeleteTenant(ctx, tenantID); err != nil {
				styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to delete tenant: %v", err))
				return err
			}

			styler.FprintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Tenant '%s' deleted", tenantID))
			return nil
		},
	}
}
