package coordhttp

import (
	"context"
	"fmt"
	"net/http"
)

// Client is a thin Go binding for a coordhttp.Server, used by
// cmd/coordctl and integration tests. It holds no state beyond the
// server's base URL.
type Client struct {
	BaseURL string
}

// NewClient builds a Client addressing the server at baseURL (e.g.
// "http://localhost:7070").
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

func (c *Client) entryURL(escapedPath string) string {
	return fmt.Sprintf("%s%s%s", c.BaseURL, entriesPrefix, escapedPath)
}

// Create calls the create operation (§6.1).
func (c *Client) Create(ctx context.Context, escapedPath string, value []byte, ephemeral bool) (*EntryView, error) {
	return c.createOrGetOrCreate(ctx, escapedPath, value, ephemeral, false)
}

// GetOrCreate calls the get_or_create operation (§6.1).
func (c *Client) GetOrCreate(ctx context.Context, escapedPath string, value []byte, ephemeral bool) (*EntryView, error) {
	return c.createOrGetOrCreate(ctx, escapedPath, value, ephemeral, true)
}

func (c *Client) createOrGetOrCreate(ctx context.Context, escapedPath string, value []byte, ephemeral, getOrCreate bool) (*EntryView, error) {
	url := c.entryURL(escapedPath)
	if getOrCreate {
		url += "?get_or_create=true"
	}
	var resp EntryResponse
	if err := PostJSON(ctx, url, CreateRequest{Value: value, Ephemeral: ephemeral}, &resp); err != nil {
		return nil, err
	}
	return resp.Entry, nil
}

// Get calls the get operation (§6.1); a nil *EntryView with a nil error
// means the path is absent.
func (c *Client) Get(ctx context.Context, escapedPath string) (*EntryView, error) {
	var resp EntryResponse
	if err := GetJSON(ctx, c.entryURL(escapedPath), &resp); err != nil {
		return nil, err
	}
	return resp.Entry, nil
}

// SetValue calls the set_value operation (§6.1), returning the new
// version on success.
func (c *Client) SetValue(ctx context.Context, escapedPath string, value []byte, expectedVersion int64) (int64, error) {
	var resp VersionResponse
	req := SetValueRequest{Value: value, ExpectedVersion: expectedVersion}
	if err := doJSON(ctx, http.MethodPut, c.entryURL(escapedPath), req, &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// Delete calls the delete operation (§6.1), returning the version
// observed immediately before deletion (0 if the path was already
// absent).
func (c *Client) Delete(ctx context.Context, escapedPath string, expectedVersion int64, recursive bool) (int64, error) {
	var resp VersionResponse
	req := DeleteRequest{ExpectedVersion: expectedVersion, Recursive: recursive}
	if err := doJSON(ctx, http.MethodDelete, c.entryURL(escapedPath), req, &resp); err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// GetSession calls the get_session operation (§6.1), returning the
// server's own compact session id.
func (c *Client) GetSession(ctx context.Context) (string, error) {
	var resp SessionResponse
	if err := GetJSON(ctx, c.BaseURL+"/v1/session", &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}
