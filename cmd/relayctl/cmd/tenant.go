package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/shawn/chat-relay/internal/cli/api"
	"github.com/shawn/chat-relay/internal/cli/output"
	"github.com/spf13/cobra"
)

func newTenantCmd(client api.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
		Long:  `Create, list, get, update, and delete tenants.`,
	}

	cmd.AddCommand(newTenantCreateCmd(client))
	cmd.AddCommand(newTenantListCmd(client))
	cmd.AddCommand(newTenantGetCmd(client))
	cmd.AddCommand(newTenantUpdateCmd(client))
	cmd.AddCommand(newTenantPasswordCmd(client))
	cmd.AddCommand(newTenantDeleteCmd(client))

	return cmd
}

// printTenant writes t as JSON or as aligned fields depending on --output.
func printTenant(w io.Writer, t *api.Tenant) error {
	if outputFormat == "json" {
		jsonStr, err := output.FormatJSON(t)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Fprintln(w, jsonStr)
		return nil
	}
	fmt.Fprintf(w, "Tenant ID:     %s\n", t.ID)
	fmt.Fprintf(w, "Name:          %s\n", t.Name)
	if t.Username != "" {
		fmt.Fprintf(w, "Username:      %s\n", t.Username)
	}
	fmt.Fprintf(w, "Max Sessions:  %d\n", t.MaxSessions)
	if t.WebhookURL != "" {
		fmt.Fprintf(w, "Webhook:       %s\n", t.WebhookURL)
	}
	if !t.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:    %s\n", t.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
