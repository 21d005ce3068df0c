package cmd

import (
	"os"
	"time"

	"github.com/shawn/chat-relay/internal/cli/api"
	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

var (
	version   string
	commit    string
	buildDate string

	// Global flags
	serverURL    string
	adminToken   string
	outputFormat string
	noColor      bool
)

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Chat relay admin CLI",
	Long: `relayctl manages a chat relay from the command line.

It creates and removes tenants, starts and stops messaging sessions,
and sends test messages through a connected session.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", getEnvOrDefault("RELAYCTL_SERVER", "http://localhost:5001"), "Relay HTTP URL")
	rootCmd.PersistentFlags().StringVar(&adminToken, "admin-token", os.Getenv("RELAYCTL_ADMIN_TOKEN"), "Admin token")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "Output format: json|table")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

// lazyClient defers building the HTTP client until flags are parsed.
type lazyClient struct {
	api.Client
}

func Execute() error {
	client := &lazyClient{}
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		client.Client = api.NewHTTPClient(serverURL, adminToken)
	}

	rootCmd.AddCommand(newTenantCmd(client))
	rootCmd.AddCommand(newSessionCmd(client))
	rootCmd.AddCommand(newSendCmd(client))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd.Execute()
}

func SetVersion(v, c, d string) {
	version = v
	commit = c
	buildDate = d
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
