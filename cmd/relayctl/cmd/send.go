package cmd

import (
	stdcontext "context"
	"fmt"
	"strings"
	"time"

	"github.com/shawn/chat-relay/internal/cli/api"
	"github.com/shawn/chat-relay/internal/cli/output"
	"github.com/spf13/cobra"
)

func newSendCmd(client api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "send <session-id> <chat-id> <text...>",
		Short: "Send a text message through a session",
		Long: `Send a text message through a connected session.

The relay types the message out before sending, so long texts take a
while. The command returns once the message is sent.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, chatID := args[0], args[1]
			text := strings.Join(args[2:], " ")
			styler := output.NewStyler(noColor)

			ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), 5*time.Minute)
			defer cancel()

			if err := client.Send(ctx, sessionID, &api.SendRequest{ChatID: chatID, Text: text}); err != nil {
				styler.FprintError(cmd.OutOrStderr(), fmt.Sprintf("Failed to send message: %v", err))
				return err
			}
			styler.FprintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Message sent to %s", chatID))
			return nil
		},
	}
}
