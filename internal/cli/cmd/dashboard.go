package cmd

import (
	"garrison/internal/cli/ui"

	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live overview of every connection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunDashboard()
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console [connection]",
	Short: "Attach to the live console of a server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		_, err = ui.RunConsole(Client, conn.ID)
		return err
	},
}

func init() {
	RootCmd.AddCommand(dashboardCmd, consoleCmd)
}

// RunDashboard alternates between the overview and the console of the
// selected connection until the user quits.
func RunDashboard() error {
	for {
		id, err := ui.RunDashboard(Client)
		if err != nil || id == "" {
			return err
		}
		back, err := ui.RunConsole(Client, id)
		if err != nil {
			return err
		}
		if !back {
			return nil
		}
	}
}
