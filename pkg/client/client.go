package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orgloop/orgloop/pkg/state"
	"github.com/orgloop/orgloop/pkg/types"
)

// Client talks to a running runtime's control API over loopback HTTP
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the given control port
func New(port int) *Client {
	return &Client{
		base: fmt.Sprintf("http://127.0.0.1:%d", port),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// FromPortFile discovers the control port from the runtime's port file
func FromPortFile(dataDir string) (*Client, error) {
	paths, err := state.New(dataDir)
	if err != nil {
		return nil, err
	}
	port, err := paths.ReadPortFile()
	if err != nil {
		return nil, err
	}
	return New(port), nil
}

// Status returns the runtime-wide snapshot
func (c *Client) Status() (*types.RuntimeStatus, error) {
	var out types.RuntimeStatus
	if err := c.get("/control/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListModules returns summaries of every loaded module
func (c *Client) ListModules() ([]types.ModuleSummary, error) {
	var out struct {
		Modules []types.ModuleSummary `json:"modules"`
	}
	if err := c.get("/control/module/list", &out); err != nil {
		return nil, err
	}
	return out.Modules, nil
}

// ModuleStatus returns one module's status
func (c *Client) ModuleStatus(name string) (*types.ModuleStatus, error) {
	var out types.ModuleStatus
	if err := c.get("/control/module/status/"+name, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadModule loads a module bundle from a path on the daemon's filesystem
func (c *Client) LoadModule(path string, params map[string]any) (*types.ModuleStatus, error) {
	var out types.ModuleStatus
	err := c.post("/control/module/load", map[string]any{"path": path, "params": params}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UnloadModule unloads a module by name
func (c *Client) UnloadModule(name string) error {
	return c.post("/control/module/unload", map[string]any{"name": name}, nil)
}

// ReloadModule reloads a module by name
func (c *Client) ReloadModule(name string) (*types.ModuleStatus, error) {
	var out types.ModuleStatus
	if err := c.post("/control/module/reload", map[string]any{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Inject publishes an event on behalf of a loaded module
func (c *Client) Inject(moduleName string, event *types.Event) error {
	return c.post("/control/inject", map[string]any{"module": moduleName, "event": event}, nil)
}

// Shutdown asks the runtime to stop gracefully
func (c *Client) Shutdown() error {
	return c.post("/control/shutdown", map[string]any{}, nil)
}

func (c *Client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("control request failed: %w", err)
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func (c *Client) post(path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("control request failed: %w", err)
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("control API returned HTTP %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
