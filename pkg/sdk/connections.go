package sdk

import (
	"fmt"
	"net/url"
)

func (c *Client) ListConnections() ([]Connection, error) {
	var conns []Connection
	err := c.get("/connections", &conns)
	return conns, err
}

func (c *Client) GetConnection(id string) (*Connection, error) {
	var conn Connection
	if err := c.get("/connections/"+url.PathEscape(id), &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (c *Client) CreateConnection(req ConnectionRequest) (*Connection, error) {
	var conn Connection
	if err := c.post("/connections", req, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (c *Client) UpdateConnection(id string, req ConnectionRequest) (*Connection, error) {
	var conn Connection
	if err := c.patch("/connections/"+url.PathEscape(id), req, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (c *Client) DeleteConnection(id string, force bool) error {
	return c.delete(fmt.Sprintf("/connections/%s?force=%t", url.PathEscape(id), force))
}

func (c *Client) TestConnection(id string) (*TestResult, error) {
	var result TestResult
	if err := c.post(fmt.Sprintf("/connections/%s/test", url.PathEscape(id)), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SetDefaultConnection(id string) (*Connection, error) {
	var conn Connection
	if err := c.post(fmt.Sprintf("/connections/%s/default", url.PathEscape(id)), nil, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

// ResolveConnection accepts an id or a name. An empty ref picks the default
// connection.
func (c *Client) ResolveConnection(ref string) (*Connection, error) {
	conns, err := c.ListConnections()
	if err != nil {
		return nil, err
	}
	for i := range conns {
		conn := &conns[i]
		if (ref == "" && conn.IsDefault) || (ref != "" && (conn.ID == ref || conn.Name == ref)) {
			return conn, nil
		}
	}
	if ref == "" {
		return nil, &APIError{Status: 404, Kind: "not_found", Message: "no default connection"}
	}
	return nil, &APIError{Status: 404, Kind: "not_found", Message: fmt.Sprintf("connection %s not found", ref)}
}
