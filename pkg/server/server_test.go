package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/orgloop/orgloop/pkg/client"
	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/log"
	"github.com/orgloop/orgloop/pkg/module"
	"github.com/orgloop/orgloop/pkg/phaselog"
	"github.com/orgloop/orgloop/pkg/server"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: "error", Format: log.FormatJSON})
}

// fakeControl records control calls and returns canned answers
type fakeControl struct {
	mu        sync.Mutex
	unloaded  []string
	injected  []*types.Event
	shutdowns int
}

func (f *fakeControl) Status() types.RuntimeStatus {
	return types.RuntimeStatus{PID: 123, UptimeMS: 1000, Modules: []types.ModuleStatus{}}
}

func (f *fakeControl) ListModules() []types.ModuleSummary {
	return []types.ModuleSummary{{Name: "eng", State: types.ModuleActive}}
}

func (f *fakeControl) ModuleStatus(name string) (types.ModuleStatus, error) {
	if name != "eng" {
		return types.ModuleStatus{}, fmt.Errorf("%w: %s", module.ErrModuleNotFound, name)
	}
	return types.ModuleStatus{Name: "eng", State: types.ModuleActive}, nil
}

func (f *fakeControl) LoadModuleFromPath(path string, params map[string]any) (types.ModuleStatus, error) {
	if path == "dup.yaml" {
		return types.ModuleStatus{}, fmt.Errorf("%w: eng", module.ErrModuleAlreadyLoaded)
	}
	return types.ModuleStatus{Name: "eng", State: types.ModuleActive}, nil
}

func (f *fakeControl) UnloadModule(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "nope" {
		return fmt.Errorf("%w: %s", module.ErrModuleNotFound, name)
	}
	f.unloaded = append(f.unloaded, name)
	return nil
}

func (f *fakeControl) ReloadModule(name string) (types.ModuleStatus, error) {
	return f.ModuleStatus(name)
}

func (f *fakeControl) Inject(moduleName string, event *types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = append(f.injected, event)
	return nil
}

func (f *fakeControl) InitiateShutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
}

// echoWebhook writes a response and returns one event
type echoWebhook struct{}

func (e *echoWebhook) Init(config map[string]any) error { return nil }
func (e *echoWebhook) Shutdown() error                  { return nil }
func (e *echoWebhook) HandleWebhook(w http.ResponseWriter, r *http.Request) ([]*types.Event, error) {
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"ok":true}`))
	ev := types.NewEvent("hooks", types.EventMessageReceived)
	return []*types.Event{ev}, nil
}

type injected struct {
	mu     sync.Mutex
	events []*types.Event
	module string
	source string
}

func startServer(t *testing.T, ctl server.Control) (*server.Server, *injected, *phaselog.Fanout) {
	t.Helper()
	fanout := phaselog.NewFanout()
	inj := &injected{}
	srv := server.New("127.0.0.1:0", ctl, fanout, func(module, source string, events []*types.Event) {
		inj.mu.Lock()
		inj.module, inj.source = module, source
		inj.events = append(inj.events, events...)
		inj.mu.Unlock()
	})
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		srv.Stop(ctx)
		cancel()
	})
	return srv, inj, fanout
}

func url(srv *server.Server, path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", srv.Port(), path)
}

func TestWebhookIngress(t *testing.T) {
	srv, inj, _ := startServer(t, &fakeControl{})
	srv.RegisterWebhook("hooks", "eng", &echoWebhook{})

	resp, err := http.Post(url(srv, "/webhook/hooks"), "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	inj.mu.Lock()
	defer inj.mu.Unlock()
	require.Len(t, inj.events, 1)
	assert.Equal(t, "eng", inj.module)
	assert.Equal(t, "hooks", inj.source)
}

func TestWebhookUnknownSourceIs404(t *testing.T) {
	srv, _, _ := startServer(t, &fakeControl{})

	resp, err := http.Post(url(srv, "/webhook/ghost"), "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "ghost")
}

func TestWebhookNonPostIs405(t *testing.T) {
	srv, _, _ := startServer(t, &fakeControl{})
	srv.RegisterWebhook("hooks", "eng", &echoWebhook{})

	resp, err := http.Get(url(srv, "/webhook/hooks"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestUnregisterModuleRemovesWebhooks(t *testing.T) {
	srv, _, _ := startServer(t, &fakeControl{})
	srv.RegisterWebhook("hooks", "eng", &echoWebhook{})
	srv.UnregisterModule("eng")

	resp, err := http.Post(url(srv, "/webhook/hooks"), "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// The control API is exercised through pkg/client, the CLI's view of it.
func TestControlAPIThroughClient(t *testing.T) {
	ctl := &fakeControl{}
	srv, _, _ := startServer(t, ctl)
	c := client.New(srv.Port())

	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, 123, status.PID)

	modules, err := c.ListModules()
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, "eng", modules[0].Name)

	ms, err := c.ModuleStatus("eng")
	require.NoError(t, err)
	assert.Equal(t, types.ModuleActive, ms.State)

	_, err = c.ModuleStatus("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")

	loaded, err := c.LoadModule("bundle.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, "eng", loaded.Name)

	require.NoError(t, c.UnloadModule("eng"))
	assert.Equal(t, []string{"eng"}, ctl.unloaded)

	_, err = c.ReloadModule("eng")
	require.NoError(t, err)

	ev := types.NewEvent("gh", types.EventResourceChanged)
	require.NoError(t, c.Inject("eng", ev))
	require.Len(t, ctl.injected, 1)
	assert.Equal(t, ev.ID, ctl.injected[0].ID)

	require.NoError(t, c.Shutdown())
	assert.Equal(t, 1, ctl.shutdowns)
}

func TestControlErrorStatusCodes(t *testing.T) {
	srv, _, _ := startServer(t, &fakeControl{})

	// Already loaded -> 409.
	body, _ := json.Marshal(map[string]any{"path": "dup.yaml"})
	resp, err := http.Post(url(srv, "/control/module/load"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown module -> 404.
	body, _ = json.Marshal(map[string]any{"name": "nope"})
	resp, err = http.Post(url(srv, "/control/module/unload"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Missing fields -> 400.
	resp, err = http.Post(url(srv, "/control/module/load"), "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown paths -> 404.
	resp, err = http.Get(url(srv, "/control/ghost"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPortAlreadyInUse(t *testing.T) {
	srv, _, _ := startServer(t, &fakeControl{})

	second := server.New(fmt.Sprintf("127.0.0.1:%d", srv.Port()), &fakeControl{}, phaselog.NewFanout(), nil)
	assert.Error(t, second.Start())
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := startServer(t, &fakeControl{})

	resp, err := http.Get(url(srv, "/metrics"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

var _ connector.WebhookHandler = (*echoWebhook)(nil)
