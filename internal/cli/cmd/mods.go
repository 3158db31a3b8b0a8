package cmd

import (
	"fmt"

	"garrison/pkg/sdk"

	"github.com/spf13/cobra"
)

var modsCmd = &cobra.Command{
	Use:   "mods",
	Short: "Manage the mods attached to a connection",
}

var (
	modConn        string
	modName        string
	modSource      string
	modVersion     string
	modGameVersion string
	modDisabled    bool
	checkVersion   string
)

var modsListCmd = &cobra.Command{
	Use:   "list [connection]",
	Short: "List mods in load order",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		mods, err := Client.ListMods(conn.ID)
		if err != nil {
			return err
		}
		if len(mods) == 0 {
			fmt.Println("No mods.")
			return nil
		}
		for _, m := range mods {
			state := "on "
			if !m.Enabled {
				state = "off"
			}
			fmt.Printf("%2d. [%s] %s %s (%s) id=%s\n", m.Order+1, state, m.Name, m.Version, m.Source, m.ID)
		}
		return nil
	},
}

var modsAddCmd = &cobra.Command{
	Use:   "add [connection]",
	Short: "Attach a mod",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		mod, err := Client.AddMod(conn.ID, modDefinition(cmd))
		if err != nil {
			return err
		}
		fmt.Printf("Mod %s added at position %d (%s)\n", mod.Name, mod.Order+1, mod.ID)
		return nil
	},
}

var modsUpdateCmd = &cobra.Command{
	Use:   "update <mod-id>",
	Short: "Change a mod's details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mod, err := Client.UpdateMod(args[0], modDefinition(cmd))
		if err != nil {
			return err
		}
		fmt.Printf("Mod %s updated\n", mod.Name)
		return nil
	},
}

var modsToggleCmd = &cobra.Command{
	Use:   "toggle <mod-id>",
	Short: "Enable or disable a mod",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mod, err := Client.ToggleMod(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Mod %s enabled: %t\n", mod.Name, mod.Enabled)
		return nil
	},
}

var modsRemoveCmd = &cobra.Command{
	Use:   "remove <mod-id>",
	Short: "Detach a mod",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := Client.RemoveMod(args[0]); err != nil {
			return err
		}
		fmt.Println("Mod removed")
		return nil
	},
}

var modsReorderCmd = &cobra.Command{
	Use:   "reorder <mod-id>...",
	Short: "Set the complete load order (--conn selects the connection)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := Client.ResolveConnection(modConn)
		if err != nil {
			return err
		}
		mods, err := Client.ReorderMods(conn.ID, args)
		if err != nil {
			return err
		}
		for _, m := range mods {
			fmt.Printf("%2d. %s\n", m.Order+1, m.Name)
		}
		return nil
	},
}

var modsCheckCmd = &cobra.Command{
	Use:   "check [connection]",
	Short: "Check mods against the server version",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := resolve(args)
		if err != nil {
			return err
		}
		report, err := Client.CheckMods(conn.ID, checkVersion)
		if err != nil {
			return err
		}
		incompatible := 0
		for _, r := range report {
			if r.Compatible {
				fmt.Printf("ok    %s\n", r.Name)
				continue
			}
			incompatible++
			fmt.Printf("FAIL  %s: %s\n", r.Name, r.Reason)
		}
		if incompatible > 0 {
			return fmt.Errorf("%d incompatible mod(s)", incompatible)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{modsAddCmd, modsUpdateCmd} {
		c.Flags().StringVar(&modName, "name", "", "Mod name")
		c.Flags().StringVar(&modSource, "source", "", "Workshop id or source reference")
		c.Flags().StringVar(&modVersion, "version", "", "Mod version")
		c.Flags().StringVar(&modGameVersion, "game-version", "", "Minimum game version the mod needs")
		c.Flags().BoolVar(&modDisabled, "disabled", false, "Keep the mod disabled")
	}
	modsAddCmd.MarkFlagRequired("name")
	modsAddCmd.MarkFlagRequired("source")
	modsReorderCmd.Flags().StringVar(&modConn, "conn", "", "Connection (default connection when empty)")
	modsCheckCmd.Flags().StringVar(&checkVersion, "version", "", "Game version to check against (default: the server's)")

	modsCmd.AddCommand(modsListCmd, modsAddCmd, modsUpdateCmd, modsToggleCmd, modsRemoveCmd, modsReorderCmd, modsCheckCmd)
	RootCmd.AddCommand(modsCmd)
}

func modDefinition(cmd *cobra.Command) sdk.ModDefinition {
	var def sdk.ModDefinition
	changed := cmd.Flags().Changed
	if changed("name") {
		def.Name = &modName
	}
	if changed("source") {
		def.Source = &modSource
	}
	if changed("version") {
		def.Version = &modVersion
	}
	if changed("game-version") {
		def.GameVersion = &modGameVersion
	}
	if changed("disabled") {
		enabled := !modDisabled
		def.Enabled = &enabled
	}
	return def
}
