package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/orgloop/orgloop/pkg/types"
)

// Paths describes the on-disk layout of a runtime's persistent state:
// the pid and control-port files and one directory per module.
type Paths struct {
	DataDir string
}

// DefaultDataDir returns the per-user state directory
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".orgloop"
	}
	return filepath.Join(home, ".orgloop")
}

// New ensures the data directory exists
func New(dataDir string) (Paths, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return Paths{}, fmt.Errorf("failed to create data dir: %w", err)
	}
	return Paths{DataDir: dataDir}, nil
}

// PIDFile returns the runtime pid file path
func (p Paths) PIDFile() string {
	return filepath.Join(p.DataDir, "orgloop.pid")
}

// PortFile returns the control-port file path
func (p Paths) PortFile() string {
	return filepath.Join(p.DataDir, "orgloop.port")
}

// ModuleDir returns (and creates) the directory for one module's state
func (p Paths) ModuleDir(name string) (string, error) {
	dir := filepath.Join(p.DataDir, "modules", name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create module dir: %w", err)
	}
	return dir, nil
}

// WritePIDFile records the current process id
func (p Paths) WritePIDFile() error {
	return os.WriteFile(p.PIDFile(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// WritePortFile records the bound control port for external tools
func (p Paths) WritePortFile(port int) error {
	return os.WriteFile(p.PortFile(), []byte(strconv.Itoa(port)+"\n"), 0644)
}

// ReadPortFile returns the control port of a running instance
func (p Paths) ReadPortFile() (int, error) {
	data, err := os.ReadFile(p.PortFile())
	if err != nil {
		return 0, fmt.Errorf("no control port file (is the runtime running?): %w", err)
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed control port file: %w", err)
	}
	return port, nil
}

// Cleanup removes the pid and port files
func (p Paths) Cleanup() {
	os.Remove(p.PIDFile())
	os.Remove(p.PortFile())
}

// ModuleSnapshot is the durable record of a module's last known state,
// written into the module's directory on every lifecycle transition. After
// a crash the snapshot still says active, which Start reports so the
// operator knows what to reload.
type ModuleSnapshot struct {
	Name     string            `json:"name"`
	State    types.ModuleState `json:"state"`
	SavedAt  time.Time         `json:"saved_at"`
	LoadedAt time.Time         `json:"loaded_at"`
}

func (p Paths) snapshotPath(name string) string {
	return filepath.Join(p.DataDir, "modules", name, "state.json")
}

// SaveModuleSnapshot writes the snapshot to modules/<name>/state.json
func (p Paths) SaveModuleSnapshot(snap ModuleSnapshot) error {
	if _, err := p.ModuleDir(snap.Name); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.snapshotPath(snap.Name), append(data, '\n'), 0644)
}

// LoadModuleSnapshot reads one module's snapshot
func (p Paths) LoadModuleSnapshot(name string) (ModuleSnapshot, error) {
	data, err := os.ReadFile(p.snapshotPath(name))
	if err != nil {
		return ModuleSnapshot{}, fmt.Errorf("no snapshot for module %s: %w", name, err)
	}
	var snap ModuleSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ModuleSnapshot{}, fmt.Errorf("malformed snapshot for module %s: %w", name, err)
	}
	return snap, nil
}

// ListModuleSnapshots returns the snapshot of every module directory.
// Directories without a readable snapshot are skipped.
func (p Paths) ListModuleSnapshots() ([]ModuleSnapshot, error) {
	entries, err := os.ReadDir(filepath.Join(p.DataDir, "modules"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var snaps []ModuleSnapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snap, err := p.LoadModuleSnapshot(entry.Name())
		if err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
