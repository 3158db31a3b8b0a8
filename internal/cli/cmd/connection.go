package cmd

import (
	"fmt"
	"os"

	"garrison/internal/domain"
	"garrison/pkg/sdk"

	"github.com/spf13/cobra"
)

var connectionCmd = &cobra.Command{
	Use:     "connection",
	Aliases: []string{"conn"},
	Short:   "Manage connections to game server hosts",
}

type connectionFlags struct {
	name        string
	connType    string
	host        string
	port        int
	user        string
	password    string
	keyFile     string
	fingerprint string
	path        string
}

var connFlags connectionFlags
var removeForce bool

var connectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return handleConnectionList()
	},
}

var connectionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a local or remote connection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := connFlags.request(cmd)
		if err != nil {
			return err
		}
		conn, err := Client.CreateConnection(req)
		if err != nil {
			return err
		}
		fmt.Printf("Connection %s added (%s)\n", conn.Name, conn.ID)
		return nil
	},
}

var connectionEditCmd = &cobra.Command{
	Use:   "edit <connection>",
	Short: "Change a connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		req, err := connFlags.request(cmd)
		if err != nil {
			return err
		}
		updated, err := Client.UpdateConnection(conn.ID, req)
		if err != nil {
			return err
		}
		fmt.Printf("Connection %s updated\n", updated.Name)
		return nil
	},
}

var connectionRemoveCmd = &cobra.Command{
	Use:   "remove <connection>",
	Short: "Remove a connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		if err := Client.DeleteConnection(conn.ID, removeForce); err != nil {
			return err
		}
		fmt.Printf("Connection %s removed\n", conn.Name)
		return nil
	},
}

var connectionTestCmd = &cobra.Command{
	Use:   "test [connection]",
	Short: "Check that a connection is reachable and its install path usable",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		result, err := Client.TestConnection(conn.ID)
		if err != nil {
			return err
		}
		if !result.OK {
			return fmt.Errorf("connection test failed: %s", result.Message)
		}
		fmt.Printf("OK (%s) %s\n", result.Latency, result.Message)
		return nil
	},
}

var connectionDefaultCmd = &cobra.Command{
	Use:   "default <connection>",
	Short: "Make a connection the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		if _, err := Client.SetDefaultConnection(conn.ID); err != nil {
			return err
		}
		fmt.Printf("%s is now the default connection\n", conn.Name)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{connectionAddCmd, connectionEditCmd} {
		c.Flags().StringVar(&connFlags.name, "name", "", "Connection name")
		c.Flags().StringVar(&connFlags.connType, "type", "", "local or remote")
		c.Flags().StringVar(&connFlags.host, "host", "", "SSH host of a remote connection")
		c.Flags().IntVar(&connFlags.port, "port", 0, "SSH port (default 22)")
		c.Flags().StringVar(&connFlags.user, "user", "", "SSH user")
		c.Flags().StringVar(&connFlags.password, "password", "", "SSH password")
		c.Flags().StringVar(&connFlags.keyFile, "key", "", "Path to an SSH private key")
		c.Flags().StringVar(&connFlags.fingerprint, "fingerprint", "", "Expected SSH host key fingerprint")
		c.Flags().StringVar(&connFlags.path, "path", "", "Install path of the server")
	}
	connectionAddCmd.MarkFlagRequired("name")
	connectionRemoveCmd.Flags().BoolVar(&removeForce, "force", false, "Stop a running server and remove anyway")

	connectionCmd.AddCommand(connectionListCmd, connectionAddCmd, connectionEditCmd, connectionRemoveCmd, connectionTestCmd, connectionDefaultCmd)
	RootCmd.AddCommand(connectionCmd)
}

// request only carries the flags the user actually set.
func (f connectionFlags) request(cmd *cobra.Command) (sdk.ConnectionRequest, error) {
	var req sdk.ConnectionRequest
	changed := cmd.Flags().Changed
	if changed("name") {
		req.Name = &f.name
	}
	if changed("type") {
		t := domain.ConnectionType(f.connType)
		req.Type = &t
	}
	if changed("host") {
		req.Host = &f.host
	}
	if changed("port") {
		req.Port = &f.port
	}
	if changed("user") {
		req.Username = &f.user
	}
	if changed("password") {
		req.Password = &f.password
	}
	if changed("key") {
		data, err := os.ReadFile(f.keyFile)
		if err != nil {
			return req, usageError("could not read key file: %v", err)
		}
		key := string(data)
		req.PrivateKey = &key
	}
	if changed("fingerprint") {
		req.HostKeyFingerprint = &f.fingerprint
	}
	if changed("path") {
		req.InstallPath = &f.path
	}
	return req, nil
}

func handleConnectionList() error {
	conns, err := Client.ListConnections()
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		fmt.Println("No connections yet. Add one with: garrison connection add --name <name>")
		return nil
	}

	fmt.Println("Connections:")
	for _, c := range conns {
		marker := " "
		if c.IsDefault {
			marker = "*"
		}
		target := "local"
		if c.Type == string(domain.ConnectionRemote) {
			target = fmt.Sprintf("%s@%s:%d", c.Username, c.Host, c.Port)
		}
		tested := "never tested"
		if c.LastTestedAt != nil {
			tested = "test failed"
			if c.LastTestOK {
				tested = "test ok"
			}
		}
		fmt.Printf("%s %s (%s) [%s] %s  %s\n", marker, c.Name, c.ID, target, c.InstallPath, tested)
	}
	return nil
}

// resolve picks the connection named by the first argument, or the default
// one when there is none.
func resolve(args []string) (*sdk.Connection, error) {
	ref := ""
	if len(args) > 0 {
		ref = args[0]
	}
	return Client.ResolveConnection(ref)
}
