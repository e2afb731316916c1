package builtin

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/types"
)

// WebhookSource is a generic push source: any JSON object POSTed to its
// webhook path becomes the payload of one event
type WebhookSource struct {
	eventType types.EventType
	maxBody   int64
}

// Init accepts event_type (default message.received) and max_body_bytes
func (s *WebhookSource) Init(config map[string]any) error {
	s.eventType = types.EventMessageReceived
	if et, ok := config["event_type"].(string); ok && et != "" {
		s.eventType = types.EventType(et)
	}
	s.maxBody = 1 << 20
	if mb, ok := config["max_body_bytes"].(int); ok && mb > 0 {
		s.maxBody = int64(mb)
	}
	return nil
}

// HandleWebhook parses the request body and returns one event to inject
func (s *WebhookSource) HandleWebhook(w http.ResponseWriter, r *http.Request) ([]*types.Event, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return nil, fmt.Errorf("failed to read webhook body: %w", err)
	}

	var payload map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, `{"error":"body must be a JSON object"}`, http.StatusBadRequest)
			return nil, fmt.Errorf("invalid webhook payload: %w", err)
		}
	}

	event := types.NewEvent("", s.eventType)
	event.Payload = payload
	event.Provenance = map[string]string{
		"platform":    "webhook",
		"remote_addr": r.RemoteAddr,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "event_id": event.ID})

	return []*types.Event{event}, nil
}

// Shutdown is a no-op
func (s *WebhookSource) Shutdown() error {
	return nil
}

var _ connector.WebhookHandler = (*WebhookSource)(nil)
