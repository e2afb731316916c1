package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/types"
)

// HTTPActor delivers events by POSTing them as JSON to a configured URL.
// 2xx responses count as delivered, other 4xx as rejected, everything else
// as an error.
type HTTPActor struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// Init requires url; headers is an optional string map
func (a *HTTPActor) Init(config map[string]any) error {
	url, _ := config["url"].(string)
	if url == "" {
		return fmt.Errorf("http actor requires a url")
	}
	a.url = url

	a.headers = make(map[string]string)
	if raw, ok := config["headers"].(map[string]any); ok {
		for k, v := range raw {
			a.headers[k] = fmt.Sprint(v)
		}
	}

	a.client = &http.Client{Timeout: 30 * time.Second}
	return nil
}

// Deliver POSTs the event together with the route's actor config
func (a *HTTPActor) Deliver(ctx context.Context, event *types.Event, routeConfig map[string]any) (*connector.DeliveryResult, error) {
	body, err := json.Marshal(map[string]any{
		"event":  event,
		"config": routeConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &connector.DeliveryResult{Status: types.DeliveryDelivered}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &connector.DeliveryResult{
			Status:  types.DeliveryRejected,
			Message: fmt.Sprintf("actor refused with HTTP %d", resp.StatusCode),
		}, nil
	default:
		return &connector.DeliveryResult{
			Status:  types.DeliveryError,
			Message: fmt.Sprintf("actor returned HTTP %d", resp.StatusCode),
		}, nil
	}
}

// Shutdown closes idle connections
func (a *HTTPActor) Shutdown() error {
	if a.client != nil {
		a.client.CloseIdleConnections()
	}
	return nil
}

var _ connector.Actor = (*HTTPActor)(nil)
