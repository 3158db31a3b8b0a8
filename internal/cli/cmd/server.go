package cmd

import (
	"fmt"

	"garrison/internal/cli/ui"
	"garrison/pkg/sdk"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Control the game server of a connection",
}

var installDetach bool

var serverStatusCmd = &cobra.Command{
	Use:   "status [connection]",
	Short: "Show the server status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		st, err := Client.GetStatus(conn.ID)
		if err != nil {
			return err
		}
		printStatus(conn, st)
		return nil
	},
}

func lifecycleCmd(use, short, doing string, op func(id string) (*sdk.ProcessStatus, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [connection]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := resolve(args)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s...\n", doing, conn.Name)
			st, err := op(conn.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%s is %s\n", conn.Name, st.State)
			return nil
		},
	}
}

var serverInstallCmd = &cobra.Command{
	Use:   "install [connection]",
	Short: "Install or update the server files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		if installDetach {
			p, err := Client.InstallServer(conn.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Install started: %s %.0f%%\n", p.Status, p.Progress)
			return nil
		}
		if err := ui.RunInstall(Client, conn); err != nil {
			return err
		}
		fmt.Printf("%s installed\n", conn.Name)
		return nil
	},
}

func init() {
	serverInstallCmd.Flags().BoolVar(&installDetach, "detach", false, "Start the install and return immediately")

	serverCmd.AddCommand(
		serverStatusCmd,
		lifecycleCmd("start", "Start the server and wait until it is ready", "Starting", func(id string) (*sdk.ProcessStatus, error) { return Client.StartServer(id) }),
		lifecycleCmd("stop", "Stop the server", "Stopping", func(id string) (*sdk.ProcessStatus, error) { return Client.StopServer(id) }),
		lifecycleCmd("restart", "Restart the server", "Restarting", func(id string) (*sdk.ProcessStatus, error) { return Client.RestartServer(id) }),
		lifecycleCmd("reset", "Clear an ERROR state", "Resetting", func(id string) (*sdk.ProcessStatus, error) { return Client.ResetServer(id) }),
		serverInstallCmd,
	)
	RootCmd.AddCommand(serverCmd)
}

func printStatus(conn *sdk.Connection, st *sdk.ProcessStatus) {
	fmt.Printf("\n--- %s ---\n", conn.Name)
	fmt.Printf("State:     %s\n", st.State)
	fmt.Printf("Installed: %t\n", st.IsInstalled)
	if st.Version != "" {
		fmt.Printf("Version:   %s\n", st.Version)
	}
	if st.IsOnline {
		fmt.Printf("Players:   %d/%d\n", st.Players, st.MaxPlayers)
		fmt.Printf("CPU:       %.1f%%\n", st.CPU)
		fmt.Printf("Memory:    %d MB\n", st.Memory/1024/1024)
		fmt.Printf("Uptime:    %s\n", st.Uptime)
		if st.Map != "" {
			fmt.Printf("Map:       %s\n", st.Map)
		}
	}
	if st.Mission != "" {
		fmt.Printf("Mission:   %s\n", st.Mission)
	}
	fmt.Printf("RCON:      %t\n", st.RconEnabled)
	if st.Install != nil {
		fmt.Printf("Install:   %s %.0f%% %s\n", st.Install.Status, st.Install.Progress, st.Install.Message)
	}
}
