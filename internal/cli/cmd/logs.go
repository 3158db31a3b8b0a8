package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Browse the log files a server wrote",
}

var (
	logsConn  string
	logsLines int
)

var logsDirsCmd = &cobra.Command{
	Use:   "dirs [connection]",
	Short: "List log directories, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		dirs, err := Client.ListLogDirectories(conn.ID)
		if err != nil {
			return err
		}
		for _, d := range dirs {
			fmt.Printf("%s  %s\n", d.ModifiedAt.Format("2006-01-02 15:04:05"), d.Name)
		}
		return nil
	},
}

var logsFilesCmd = &cobra.Command{
	Use:   "files <dir>",
	Short: "List the files of a log directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := Client.ResolveConnection(logsConn)
		if err != nil {
			return err
		}
		files, err := Client.ListLogFiles(conn.ID, args[0])
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Printf("%10d  %s  %s\n", f.Size, f.ModifiedAt.Format("2006-01-02 15:04:05"), f.Name)
		}
		return nil
	},
}

var logsReadCmd = &cobra.Command{
	Use:   "read <dir> <file>",
	Short: "Print the last lines of a log file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := Client.ResolveConnection(logsConn)
		if err != nil {
			return err
		}
		lines, err := Client.ReadLogFile(conn.ID, args[0], args[1], logsLines)
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Println(l.Text)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{logsFilesCmd, logsReadCmd} {
		c.Flags().StringVar(&logsConn, "conn", "", "Connection (default connection when empty)")
	}
	logsReadCmd.Flags().IntVarP(&logsLines, "lines", "n", 200, "Number of lines from the end")

	logsCmd.AddCommand(logsDirsCmd, logsFilesCmd, logsReadCmd)
	RootCmd.AddCommand(logsCmd)
}
