package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var rconConn string

var rconCmd = &cobra.Command{
	Use:   "rcon <command>...",
	Short: "Send an RCON command to a running server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := Client.ResolveConnection(rconConn)
		if err != nil {
			return err
		}
		reply, err := Client.SendCommand(conn.ID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(strings.TrimRight(reply.Reply, "\n"))
		return nil
	},
}

func init() {
	rconCmd.Flags().StringVar(&rconConn, "conn", "", "Connection (default connection when empty)")
	RootCmd.AddCommand(rconCmd)
}
