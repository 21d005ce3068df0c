package cmd

import (
	stdcontext "context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shawn/chat-relay/internal/cli/api"
	"github.com/shawn/chat-relay/internal/cli/output"
	"github.com/spf13/cobra"
)

// pollInterval is how often `session start --wait` re-reads the status.
var pollInterval = 2 * time.Second

func newSessionCmd(client api.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage messaging sessions",
		Long:  `Start, inspect, list, and terminate messaging sessions.`,
	}

	cmd.AddCommand(newSessionStartCmd(client))
	cmd.AddCommand(newSessionStatusCmd(client))
	cmd.AddCommand(newSessionListCmd(client))
	cmd.AddCommand(newSessionTerminateCmd(client))

	return cmd
}

func newSessionStartCmd(client api.Client) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "start <tenant-id>",
		Short: "Start a new session for a tenant",
		Long: `Start a new session for a tenant.

With --wait the command polls until the session shows a scan code,
connects, or fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := args[0]
			styler := output.NewStyler(noColor)

			ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), requestTimeout+wait)
			defer cancel()

			sessionID, err := client.StartSession(ctx, tenantID)
			if err != nil {
				styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to start session: %v", err))
				return err
			}
			styler.FprintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Session '%s' initializing", sessionID))
			if wait <= 0 {
				return nil
			}

			s, err := waitForSession(ctx, client, sessionID, wait)
			if err != nil {
				styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to read session: %v", err))
				return err
			}
			return printSession(cmd.OutOrStdout(), s)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for a scan code or connection")

	return cmd
}

// waitForSession polls until the session leaves INITIALIZING or wait runs out.
func waitForSession(ctx stdcontext.Context, client api.Client, id string, wait time.Duration) (*api.Session, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		s, err := client.SessionStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if s.Status != "INITIALIZING" || time.Now().After(deadline) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, nil
		case <-ticker.C:
		}
	}
}

func newSessionStatusCmd(client api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), requestTimeout)
			defer cancel()

			s, err := client.SessionStatus(ctx, args[0])
			if err != nil {
				styler := output.NewStyler(noColor)
				styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to get session: %v", err))
				return err
			}
			return printSession(cmd.OutOrStdout(), s)
		},
	}
}

func newSessionListCmd(client api.Client) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), requestTimeout)
			defer cancel()

			d, err := client.Dashboard(ctx)
			if err != nil {
				styler := output.NewStyler(noColor)
				styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to list sessions: %v", err))
				return err
			}
			sessions := make([]api.Session, 0, len(d.Sessions))
			for _, s := range d.Sessions {
				if tenantID == "" || s.TenantID == tenantID {
					sessions = append(sessions, s)
				}
			}

			if outputFormat == "json" {
				jsonStr, err := output.FormatJSON(sessions)
				if err != nil {
					return fmt.Errorf("failed to format output: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), jsonStr)
				return nil
			}

			styler := output.NewStyler(noColor)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION ID\tTENANT\tSTATUS\tNAME\tLAST ACTIVE")
			for _, s := range sessions {
				lastActive := "never"
				if !s.LastActiveAt.IsZero() {
					lastActive = s.LastActiveAt.Format("2006-01-02 15:04:05")
				}
				name := s.Name
				if name == "" {
					name = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.TenantID, styler.Status(s.Status), name, lastActive)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Only show sessions of this tenant")

	return cmd
}

func newSessionTerminateCmd(client api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "terminate <session-id>",
		Short: "Log out and remove a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			styler := output.NewStyler(noColor)

			ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), requestTimeout)
			defer cancel()

			if err := client.TerminateSession(ctx, sessionID); err != nil {
				styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to terminate session: %v", err))
				return err
			}
			styler.FprintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Session '%s' terminated", sessionID))
			return nil
		},
	}
}

func printSession(w io.Writer, s *api.Session) error {
	if outputFormat == "json" {
		jsonStr, err := output.FormatJSON(s)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Fprintln(w, jsonStr)
		return nil
	}
	fmt.Fprintf(w, "Session ID:    %s\n", s.ID)
	fmt.Fprintf(w, "Tenant:        %s\n", s.TenantID)
	fmt.Fprintf(w, "Status:        %s\n", output.NewStyler(noColor).Status(s.Status))
	if s.Name != "" {
		fmt.Fprintf(w, "Name:          %s\n", s.Name)
	}
	if s.ScanCode != "" {
		fmt.Fprintf(w, "Scan Code:     %s\n", s.ScanCode)
	}
	if !s.LastActiveAt.IsZero() {
		fmt.Fprintf(w, "Last Active:   %s\n", s.LastActiveAt.Format(time.RFC3339))
	}
	return nil
}
