package cmd

import (
	stdcontext "context"
	"fmt"

	"github.com/shawn/chat-relay/internal/cli/api"
	"github.com/shawn/chat-relay/internal/cli/output"
	"github.com/spf13/cobra"
)

func newTenantCreateCmd(client api.Client) *cobra.Command {
	var (
		name        string
		username    string
		password    string
		webhookURL  string
		maxSessions int
	)
	cmd := &cobra.Command{
		Use:   "create <tenant-id>",
		Short: "Create a new tenant",
		Long: `Create a new tenant with a dashboard login.

Inbound messages for the tenant's sessions are posted to --webhook when set.
The username defaults to the tenant ID.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := args[0]
			if username == "" {
				username = tenantID
			}
			if name == "" {
				name = tenantID
			}

			styler := output.NewStyler(noColor)
			styler.FprintInfo(cmd.OutOrStdout(), fmt.Sprintf("Creating tenant '%s'...", tenantID))

			ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), requestTimeout)
			defer cancel()

			tenant, err := client.CreateTenant(ctx, &api.CreateTenantRequest{
				TenantID:    tenantID,
				Name:        name,
				Username:    username,
				Password:    password,
				WebhookURL:  webhookURL,
				MaxSessions: maxSessions,
			})
			if err != nil {
				styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to create tenant: %v", err))
				return err
			}

			styler.FprintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Tenant '%s' created", tenantID))
			fmt.Fprintln(cmd.OutOrStdout())
			return printTenant(cmd.OutOrStdout(), tenant)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the tenant ID)")
	cmd.Flags().StringVar(&username, "username", "", "Dashboard login")
	cmd.Flags().StringVar(&password, "password", "", "Dashboard password")
	cmd.Flags().StringVar(&webhookURL, "webhook", "", "Webhook URL for inbound messages")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "Connected session limit (server default when 0)")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
