package sdk

import (
	"fmt"
	"net/url"
)

func serverPath(id, op string) string {
	return fmt.Sprintf("/connections/%s/%s", url.PathEscape(id), op)
}

func (c *Client) GetStatus(id string) (*ProcessStatus, error) {
	var st ProcessStatus
	if err := c.get(serverPath(id, "status"), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) lifecycle(id, op string) (*ProcessStatus, error) {
	var st ProcessStatus
	if err := c.post(serverPath(id, op), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) StartServer(id string) (*ProcessStatus, error) {
	return c.lifecycle(id, "start")
}

func (c *Client) StopServer(id string) (*ProcessStatus, error) {
	return c.lifecycle(id, "stop")
}

func (c *Client) RestartServer(id string) (*ProcessStatus, error) {
	return c.lifecycle(id, "restart")
}

func (c *Client) ResetServer(id string) (*ProcessStatus, error) {
	return c.lifecycle(id, "reset")
}

func (c *Client) InstallServer(id string) (*InstallProgress, error) {
	var p InstallProgress
	if err := c.post(serverPath(id, "install"), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetInstallProgress(id string) (*InstallProgress, error) {
	var p InstallProgress
	if err := c.get(serverPath(id, "install"), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetConfig(id string) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := c.get(serverPath(id, "config"), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) SaveConfig(id string, cfg ServerConfig) (*ServerConfig, error) {
	var saved ServerConfig
	if err := c.put(serverPath(id, "config"), cfg, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

func (c *Client) SendCommand(id, command string) (*RconReply, error) {
	var reply RconReply
	if err := c.post(serverPath(id, "rcon"), map[string]string{"command": command}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
