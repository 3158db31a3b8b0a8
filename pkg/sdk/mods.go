package sdk

import (
	"fmt"
	"net/url"
)

func (c *Client) ListMods(connectionID string) ([]Mod, error) {
	var mods []Mod
	err := c.get(serverPath(connectionID, "mods"), &mods)
	return mods, err
}

func (c *Client) AddMod(connectionID string, def ModDefinition) (*Mod, error) {
	var mod Mod
	if err := c.post(serverPath(connectionID, "mods"), def, &mod); err != nil {
		return nil, err
	}
	return &mod, nil
}

func (c *Client) UpdateMod(modID string, def ModDefinition) (*Mod, error) {
	var mod Mod
	if err := c.patch("/mods/"+url.PathEscape(modID), def, &mod); err != nil {
		return nil, err
	}
	return &mod, nil
}

func (c *Client) ToggleMod(modID string) (*Mod, error) {
	var mod Mod
	if err := c.post(fmt.Sprintf("/mods/%s/toggle", url.PathEscape(modID)), nil, &mod); err != nil {
		return nil, err
	}
	return &mod, nil
}

func (c *Client) RemoveMod(modID string) error {
	return c.delete("/mods/" + url.PathEscape(modID))
}

func (c *Client) ReorderMods(connectionID string, order []string) ([]Mod, error) {
	var mods []Mod
	err := c.put(serverPath(connectionID, "mods/order"), map[string][]string{"order": order}, &mods)
	return mods, err
}

// CheckMods reports compatibility against version, or against the version
// the server last reported when version is empty.
func (c *Client) CheckMods(connectionID, version string) ([]ModCompatibility, error) {
	path := serverPath(connectionID, "mods/compatibility")
	if version != "" {
		path += "?version=" + url.QueryEscape(version)
	}
	var report []ModCompatibility
	err := c.get(path, &report)
	return report, err
}
