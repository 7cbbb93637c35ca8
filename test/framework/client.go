package framework

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"github.com/vmihailenco/msgpack/v5"
)

// Client is a minimal HTTP client for exercising a cotoami-node's
// /api surface from tests: login, command dispatch, and logout.
type Client struct {
	BaseURL   string
	http      *http.Client
	csrfToken string
}

// NewClient creates a Client targeting a node's HTTP address, e.g.
// "http://127.0.0.1:7121".
func NewClient(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Client{BaseURL: baseURL, http: &http.Client{Jar: jar}}, nil
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	NodeID string `json:"nodeId"`
}

// Login authenticates as the node owner and stores the resulting
// session and CSRF cookies for subsequent requests.
func (c *Client) Login(password string) (string, error) {
	body, err := json.Marshal(loginRequest{Password: password})
	if err != nil {
		return "", err
	}
	resp, err := c.http.Post(c.BaseURL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "cotoami_csrf" {
			c.csrfToken = cookie.Value
		}
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.NodeID, nil
}

// Logout clears the owner session on the node and this client's
// cookie jar.
func (c *Client) Logout() error {
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/api/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Cotoami-CSRF-Token", c.csrfToken)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("logout request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("logout failed: status %d", resp.StatusCode)
	}
	return nil
}

// Health reports whether the node's health endpoint responds.
func (c *Client) Health() error {
	resp, err := c.http.Get(c.BaseURL + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

type wireRequest struct {
	Command string
	Body    []byte
}

type wireResponse struct {
	ID     string
	Result []byte
	Err    *wireError
}

type wireError struct {
	Code    string
	Message string
}

// Command runs a single msgpack-encoded command against /api/commands
// and decodes its result into out (pass a pointer, or nil to discard
// the result).
func (c *Client) Command(command string, args any, out any) error {
	argBody, err := msgpack.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode command args: %w", err)
	}

	envelope, err := msgpack.Marshal(wireRequest{Command: command, Body: argBody})
	if err != nil {
		return fmt.Errorf("encode command envelope: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/api/commands", bytes.NewReader(envelope))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/msgpack")
	req.Header.Set("X-Cotoami-CSRF-Token", c.csrfToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("command request: %w", err)
	}
	defer resp.Body.Close()

	var wresp wireResponse
	if err := msgpack.NewDecoder(resp.Body).Decode(&wresp); err != nil {
		return fmt.Errorf("decode command response: %w", err)
	}
	if wresp.Err != nil {
		return fmt.Errorf("command %s failed: %s: %s", command, wresp.Err.Code, wresp.Err.Message)
	}
	if out != nil && len(wresp.Result) > 0 {
		if err := msgpack.Unmarshal(wresp.Result, out); err != nil {
			return fmt.Errorf("decode command result: %w", err)
		}
	}
	return nil
}

// PostCoto posts a coto with the given content, returning its
// assigned UUID.
func (c *Client) PostCoto(content string) (string, error) {
	var result struct {
		UUID string
	}
	err := c.Command("PostCoto", map[string]any{
		"Coto": map[string]any{"Content": &content},
	}, &result)
	return result.UUID, err
}

// PostCotonoma posts a cotonoma with the given name, returning its
// assigned UUID.
func (c *Client) PostCotonoma(name string) (string, error) {
	var result struct {
		UUID string
	}
	err := c.Command("PostCotonoma", map[string]any{"Name": name}, &result)
	return result.UUID, err
}

// ChangesSince fetches changelog entries with serial > after, used by
// tests asserting replication reached a peer.
func (c *Client) ChangesSince(after int64, limit int) ([]map[string]any, error) {
	var entries []map[string]any
	err := c.Command("ChangesSince", map[string]any{"AfterSerial": after, "Limit": limit}, &entries)
	return entries, err
}

// ListNodes returns every node known to this node (itself plus peers).
func (c *Client) ListNodes() ([]map[string]any, error) {
	var nodes []map[string]any
	err := c.Command("ListNodes", struct{}{}, &nodes)
	return nodes, err
}
