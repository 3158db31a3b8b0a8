package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"garrison/pkg/sdk"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or replace the server configuration",
}

var configFile string

var configGetCmd = &cobra.Command{
	Use:   "get [connection]",
	Short: "Print the configuration as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		cfg, err := Client.GetConfig(conn.ID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set [connection]",
	Short: "Replace the configuration with a JSON document (--file or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		var r io.Reader = os.Stdin
		if configFile != "" && configFile != "-" {
			f, err := os.Open(configFile)
			if err != nil {
				return usageError("could not open %s: %v", configFile, err)
			}
			defer f.Close()
			r = f
		}
		var cfg sdk.ServerConfig
		if err := json.NewDecoder(r).Decode(&cfg); err != nil {
			return usageError("invalid configuration document: %v", err)
		}
		if _, err := Client.SaveConfig(conn.ID, cfg); err != nil {
			return err
		}
		fmt.Printf("Configuration of %s saved\n", conn.Name)
		return nil
	},
}

func init() {
	configSetCmd.Flags().StringVarP(&configFile, "file", "f", "", "JSON file to read (default stdin)")
	configCmd.AddCommand(configGetCmd, configSetCmd)
	RootCmd.AddCommand(configCmd)
}
