package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/log"
	"github.com/orgloop/orgloop/pkg/metrics"
	"github.com/orgloop/orgloop/pkg/module"
	"github.com/orgloop/orgloop/pkg/phaselog"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/rs/zerolog"
)

// Control is the narrow surface the HTTP server needs from the runtime
type Control interface {
	Status() types.RuntimeStatus
	ListModules() []types.ModuleSummary
	ModuleStatus(name string) (types.ModuleStatus, error)
	LoadModuleFromPath(path string, params map[string]any) (types.ModuleStatus, error)
	UnloadModule(name string) error
	ReloadModule(name string) (types.ModuleStatus, error)
	Inject(moduleName string, event *types.Event) error
	InitiateShutdown()
}

// LoadRequest is the body of POST /control/module/load
type LoadRequest struct {
	Path   string         `json:"path"`
	Params map[string]any `json:"params,omitempty"`
}

// InjectRequest is the body of POST /control/inject
type InjectRequest struct {
	Module string       `json:"module"`
	Event  *types.Event `json:"event"`
}

type webhookEntry struct {
	module  string
	handler connector.WebhookHandler
}

// Server is the single HTTP listener multiplexing webhook ingress, the
// control API, the metrics endpoint and the live event stream. It binds to
// loopback by default and assumes loopback-only trust: no credentials are
// accepted over the wire.
type Server struct {
	addr   string
	ctl    Control
	fanout *phaselog.Fanout
	inject func(module string, source string, events []*types.Event)
	logger zerolog.Logger

	mu       sync.RWMutex
	webhooks map[string]webhookEntry

	httpSrv  *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
}

// New creates the server. inject is called with events returned by webhook
// handlers.
func New(addr string, ctl Control, fanout *phaselog.Fanout, inject func(module, source string, events []*types.Event)) *Server {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	return &Server{
		addr:     addr,
		ctl:      ctl,
		fanout:   fanout,
		inject:   inject,
		logger:   log.WithComponent("server"),
		webhooks: make(map[string]webhookEntry),
		upgrader: websocket.Upgrader{},
	}
}

// Start binds the listener and begins serving. Binding fails if the port is
// held by another instance.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind control listener on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/{source}", s.handleWebhook)
	mux.HandleFunc("/webhook/{source}", s.handleWebhookMethod)
	mux.HandleFunc("GET /control/status", s.handleStatus)
	mux.HandleFunc("GET /control/module/list", s.handleModuleList)
	mux.HandleFunc("GET /control/module/status/{name}", s.handleModuleStatus)
	mux.HandleFunc("POST /control/module/load", s.handleModuleLoad)
	mux.HandleFunc("POST /control/module/unload", s.handleModuleUnload)
	mux.HandleFunc("POST /control/module/reload", s.handleModuleReload)
	mux.HandleFunc("POST /control/inject", s.handleInject)
	mux.HandleFunc("POST /control/shutdown", s.handleShutdown)
	mux.HandleFunc("GET /control/events", s.handleEventStream)
	mux.Handle("GET /metrics", metrics.Handler())

	s.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server stopped unexpectedly")
		}
	}()

	s.logger.Info().Int("port", s.Port()).Msg("Control listener bound")
	return nil
}

// Port returns the bound TCP port
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Stop shuts the listener down, waiting for in-flight requests up to the
// context deadline
func (s *Server) Stop(ctx context.Context) {
	if s.httpSrv == nil {
		return
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("HTTP shutdown did not drain cleanly")
	}
}

// RegisterWebhook exposes a webhook-capable source at /webhook/{sourceID}
func (s *Server) RegisterWebhook(sourceID, moduleName string, handler connector.WebhookHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[sourceID] = webhookEntry{module: moduleName, handler: handler}
}

// UnregisterModule removes every webhook belonging to the module
func (s *Server) UnregisterModule(moduleName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.webhooks {
		if entry.module == moduleName {
			delete(s.webhooks, id)
		}
	}
}

func (s *Server) handleWebhookMethod(w http.ResponseWriter, r *http.Request) {
	// Reached only for non-POST methods; the POST pattern is more specific.
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("source")

	s.mu.RLock()
	entry, ok := s.webhooks[sourceID]
	s.mu.RUnlock()

	if !ok {
		metrics.WebhookRequestsTotal.WithLabelValues(sourceID, "404").Inc()
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown webhook source: %s", sourceID))
		return
	}

	tw := &trackingWriter{ResponseWriter: w}
	events, err := entry.handler.HandleWebhook(tw, r)
	if err != nil {
		s.logger.Error().Err(err).Str("source", sourceID).Msg("Webhook handler failed")
		metrics.WebhookRequestsTotal.WithLabelValues(sourceID, "500").Inc()
		if !tw.wrote {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	metrics.WebhookRequestsTotal.WithLabelValues(sourceID, strconv.Itoa(tw.status())).Inc()
	if len(events) > 0 {
		s.inject(entry.module, sourceID, events)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
	metrics.ControlRequestsTotal.WithLabelValues("/control/status", "200").Inc()
}

func (s *Server) handleModuleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"modules": s.ctl.ListModules()})
	metrics.ControlRequestsTotal.WithLabelValues("/control/module/list", "200").Inc()
}

func (s *Server) handleModuleStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	status, err := s.ctl.ModuleStatus(name)
	if err != nil {
		s.writeControlError(w, "/control/module/status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
	metrics.ControlRequestsTotal.WithLabelValues("/control/module/status", "200").Inc()
}

func (s *Server) handleModuleLoad(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	status, err := s.ctl.LoadModuleFromPath(req.Path, req.Params)
	if err != nil {
		s.writeControlError(w, "/control/module/load", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
	metrics.ControlRequestsTotal.WithLabelValues("/control/module/load", "200").Inc()
}

func (s *Server) handleModuleUnload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.ctl.UnloadModule(req.Name); err != nil {
		s.writeControlError(w, "/control/module/unload", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	metrics.ControlRequestsTotal.WithLabelValues("/control/module/unload", "200").Inc()
}

func (s *Server) handleModuleReload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	status, err := s.ctl.ReloadModule(req.Name)
	if err != nil {
		s.writeControlError(w, "/control/module/reload", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
	metrics.ControlRequestsTotal.WithLabelValues("/control/module/reload", "200").Inc()
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req InjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Module == "" || req.Event == nil {
		writeError(w, http.StatusBadRequest, "module and event are required")
		return
	}

	if err := s.ctl.Inject(req.Module, req.Event); err != nil {
		s.writeControlError(w, "/control/inject", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "event_id": req.Event.ID})
	metrics.ControlRequestsTotal.WithLabelValues("/control/inject", "200").Inc()
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	metrics.ControlRequestsTotal.WithLabelValues("/control/shutdown", "200").Inc()
	s.ctl.InitiateShutdown()
}

// handleEventStream upgrades to a websocket and streams phase records until
// the client disconnects
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	records := make(chan types.Record, 256)
	remove := s.fanout.Watch(func(rec types.Record) {
		select {
		case records <- rec:
		default: // slow client, drop
		}
	})
	defer remove()

	// Reader goroutine detects client disconnect.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case rec := <-records:
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (s *Server) writeControlError(w http.ResponseWriter, path string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, module.ErrModuleNotFound):
		status = http.StatusNotFound
	case errors.Is(err, module.ErrModuleAlreadyLoaded):
		status = http.StatusConflict
	case errors.Is(err, ErrBadRequest):
		status = http.StatusBadRequest
	}
	metrics.ControlRequestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
	writeError(w, status, err.Error())
}

// ErrBadRequest marks control errors caused by the caller's input
var ErrBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// trackingWriter records whether a webhook handler wrote a response
type trackingWriter struct {
	http.ResponseWriter
	wrote      bool
	statusCode int
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wrote = true
	t.statusCode = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) status() int {
	if t.statusCode == 0 {
		return http.StatusOK
	}
	return t.statusCode
}
