package sdk

import (
	"fmt"
	"net/url"
)

func linesQuery(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf("?lines=%d", n)
}

func (c *Client) ListLogDirectories(connectionID string) ([]LogDirectory, error) {
	var dirs []LogDirectory
	err := c.get(serverPath(connectionID, "logs"), &dirs)
	return dirs, err
}

func (c *Client) ListLogFiles(connectionID, dir string) ([]LogFile, error) {
	var files []LogFile
	err := c.get(serverPath(connectionID, "logs/"+url.PathEscape(dir)), &files)
	return files, err
}

func (c *Client) ReadLogFile(connectionID, dir, file string, lines int) ([]LogLine, error) {
	var out []LogLine
	err := c.get(serverPath(connectionID, "logs/"+url.PathEscape(dir)+"/"+url.PathEscape(file))+linesQuery(lines), &out)
	return out, err
}

func (c *Client) TailConsole(connectionID string, lines int) ([]LogLine, error) {
	var out []LogLine
	err := c.get(serverPath(connectionID, "console")+linesQuery(lines), &out)
	return out, err
}

func (c *Client) ConsoleURL(connectionID string) (string, error) {
	return c.GetWebSocketURL("/ws/connections/" + connectionID + "/console")
}

func (c *Client) Health() error {
	var body map[string]string
	return c.get("/healthz", &body)
}
