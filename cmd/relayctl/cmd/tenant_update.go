package cmd

import (
	stdcontext "context"
	"fmt"

	"github.com/shawn/chat-relay/internal/cli/api"
	"github.com/shawn/chat-relay/internal/cli/output"
	"github.com/spf13/cobra"
)

func newTenantUpdateCmd(client api.Client) *cobra.Command {
	var (
		name        string
		webhookURL  string
		maxSessions int
	)
	cmd := &cobra.Command{
		Use:   "update <tenant-id>",
		Short: "Update tenant configuration",
		Long: `Update the name, webhook and/or session limit of an existing tenant.

At least one of --name, --webhook or --max-sessions must be specified.
Pass --webhook "" to stop forwarding inbound messages.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("name") && !cmd.Flags().Changed("webhook") && !cmd.Flags().Changed("max-sessions") {
				return fmt.Errorf("at least one of --name, --webhook or --max-sessions must be specified")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := args[0]
			styler := output.NewStyler(noColor)
			styler.FprintInfo(cmd.OutOrStdout(), fmt.Sprintf("Updating tenant '%s'...", tenantID))

			ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), requestTimeout)
			defer cancel()

			req := &api.UpdateTenantRequest{Name: name}
			if cmd.Flags().Changed("webhook") {
				req.WebhookURL = &webhookURL
			}
			if cmd.Flags().Changed("max-sessions") {
				req.MaxSessions = &maxSessions
			}
			// the server replaces the name, so keep the current one
			if !cmd.Flags().Changed("name") {
				current, err := client.GetTenant(ctx, tenantID)
				if err != nil {
					styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to get tenant: %v", err))
					return err
				}
				req.Name = current.Name
			}

			tenant, err := client.UpdateTenant(ctx, tenantID, req)
			if err != nil {
				styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to update tenant: %v", err))
				return err
			}

			styler.FprintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Tenant '%s' updated", tenantID))
			fmt.Fprintln(cmd.OutOrStdout())
			return printTenant(cmd.OutOrStdout(), tenant)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New display name")
	cmd.Flags().StringVar(&webhookURL, "webhook", "", "New webhook URL")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "New connected session limit")

	return cmd
}
