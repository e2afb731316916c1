package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventIdentifiers(t *testing.T) {
	ev := NewEvent("gh", EventResourceChanged)

	assert.True(t, strings.HasPrefix(ev.ID, "evt_"))
	assert.True(t, strings.HasPrefix(ev.TraceID, "trc_"))
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, "gh", ev.Source)
	assert.Equal(t, EventResourceChanged, ev.Type)

	other := NewEvent("gh", EventResourceChanged)
	assert.NotEqual(t, ev.ID, other.ID)
	assert.NotEqual(t, ev.TraceID, other.TraceID)
}

func TestNormalizeFillsMissingFields(t *testing.T) {
	ev := &Event{Source: "ci", Type: EventMessageReceived}
	ev.Normalize()

	assert.True(t, strings.HasPrefix(ev.ID, "evt_"))
	assert.True(t, strings.HasPrefix(ev.TraceID, "trc_"))
	assert.False(t, ev.Timestamp.IsZero())

	// Already-set fields are preserved.
	id, trace := ev.ID, ev.TraceID
	ev.Normalize()
	assert.Equal(t, id, ev.ID)
	assert.Equal(t, trace, ev.TraceID)
}

func TestLookup(t *testing.T) {
	ev := NewEvent("gh", EventResourceChanged)
	ev.Provenance = map[string]string{"platform": "github", "author_type": "bot"}
	ev.Payload = map[string]any{
		"bot": true,
		"issue": map[string]any{
			"number": float64(42),
			"labels": []any{"bug"},
		},
	}

	tests := []struct {
		path     string
		expected any
		found    bool
	}{
		{"source", "gh", true},
		{"type", "resource.changed", true},
		{"id", ev.ID, true},
		{"trace_id", ev.TraceID, true},
		{"provenance.platform", "github", true},
		{"provenance.author_type", "bot", true},
		{"payload.bot", true, true},
		{"payload.issue.number", float64(42), true},
		{"payload.issue.missing", nil, false},
		{"payload.missing.deeper", nil, false},
		{"provenance.missing", nil, false},
		{"unknown_root", nil, false},
		{"payload.bot.deeper", nil, false}, // scalar has no children
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ev.Lookup(tt.path)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	ev := NewEvent("gh", EventResourceChanged)
	ev.Provenance = map[string]string{"platform": "github"}
	ev.Payload = map[string]any{
		"issue": map[string]any{"number": 1},
	}

	clone := ev.Clone()
	require.Equal(t, ev.ID, clone.ID)

	clone.Provenance["platform"] = "gitlab"
	clone.Payload["issue"].(map[string]any)["number"] = 99

	assert.Equal(t, "github", ev.Provenance["platform"])
	assert.Equal(t, 1, ev.Payload["issue"].(map[string]any)["number"])
}

func TestTransformDefPolicy(t *testing.T) {
	def := TransformDef{Name: "boom", OnError: ErrorPolicyDrop}

	// Route-level on_error wins over the definition's.
	assert.Equal(t, ErrorPolicyHalt, def.Policy(TransformRef{Ref: "boom", OnError: ErrorPolicyHalt}))
	// Definition-level applies when the route is silent.
	assert.Equal(t, ErrorPolicyDrop, def.Policy(TransformRef{Ref: "boom"}))
	// pass is the default of defaults.
	assert.Equal(t, ErrorPolicyPass, TransformDef{Name: "x"}.Policy(TransformRef{Ref: "x"}))
}

func TestTransformDefTimeout(t *testing.T) {
	assert.Equal(t, DefaultTransformTimeout, TransformDef{}.Timeout())
	assert.Equal(t, int64(500), TransformDef{TimeoutMS: 500}.Timeout().Milliseconds())
}
