package cmd

import (
	"fmt"
	"os"

	"garrison/pkg/sdk"

	"github.com/spf13/cobra"
)

var (
	Client  *sdk.Client
	BaseURL string
	Token   string
)

var RootCmd = &cobra.Command{
	Use:           "garrison",
	Short:         "CLI for the Garrison game server daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		Client = sdk.NewClient(BaseURL, Token)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunDashboard()
	},
}

func Execute(port int) {
	RootCmd.PersistentFlags().StringVar(&BaseURL, "url", fmt.Sprintf("http://localhost:%d", port), "URL of the Garrison daemon")
	RootCmd.PersistentFlags().StringVar(&Token, "token", os.Getenv("GARRISON_TOKEN"), "Bearer token (defaults to $GARRISON_TOKEN)")

	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitCode(err))
	}
}
