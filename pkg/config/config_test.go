package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/orgloop/orgloop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundleYAML = `
name: eng
sources:
  - id: gh
    kind: webhook
    config:
      event_type: resource.changed
actors:
  - id: agent
    kind: http
    config:
      url: http://127.0.0.1:9999/wake
transforms:
  - name: scrub
    kind: script
    timeout_ms: 5000
    on_error: drop
    config:
      command: ./scrub.sh
routes:
  - name: r1
    when:
      source: gh
      events: [resource.changed]
      filter:
        payload.bot: false
    transforms:
      - ref: scrub
        on_error: pass
    then:
      actor: agent
      config:
        channel: alerts
    with:
      prompt_text: "look at this"
loggers:
  - kind: console
defaults:
  on_error: pass
`

func TestParseBundle(t *testing.T) {
	cfg, err := Parse([]byte(bundleYAML))
	require.NoError(t, err)

	assert.Equal(t, "eng", cfg.Name)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "gh", cfg.Sources[0].ID)
	assert.Equal(t, "webhook", cfg.Sources[0].Kind)

	require.Len(t, cfg.Transforms, 1)
	assert.Equal(t, types.TransformKindScript, cfg.Transforms[0].Kind)
	assert.Equal(t, 5000, cfg.Transforms[0].TimeoutMS)
	assert.Equal(t, types.ErrorPolicyDrop, cfg.Transforms[0].OnError)

	require.Len(t, cfg.Routes, 1)
	route := cfg.Routes[0]
	assert.Equal(t, []types.EventType{types.EventResourceChanged}, route.When.Events)
	assert.Equal(t, false, route.When.Filter["payload.bot"])
	require.Len(t, route.Transforms, 1)
	assert.Equal(t, types.ErrorPolicyPass, route.Transforms[0].OnError)
	assert.Equal(t, "agent", route.Then.Actor)
	assert.Equal(t, "alerts", route.Then.Config["channel"])
	assert.Equal(t, "look at this", route.With.PromptText)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eng.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bundleYAML), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "eng", cfg.Name)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	base := func() types.ModuleConfig {
		cfg, err := Parse([]byte(bundleYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*types.ModuleConfig)
	}{
		{"missing name", func(c *types.ModuleConfig) { c.Name = "" }},
		{"source without id", func(c *types.ModuleConfig) { c.Sources[0].ID = "" }},
		{"source without kind", func(c *types.ModuleConfig) { c.Sources[0].Kind = "" }},
		{"duplicate source", func(c *types.ModuleConfig) { c.Sources = append(c.Sources, c.Sources[0]) }},
		{"duplicate actor", func(c *types.ModuleConfig) { c.Actors = append(c.Actors, c.Actors[0]) }},
		{"duplicate transform", func(c *types.ModuleConfig) { c.Transforms = append(c.Transforms, c.Transforms[0]) }},
		{"bad transform kind", func(c *types.ModuleConfig) { c.Transforms[0].Kind = "magic" }},
		{"bad on_error", func(c *types.ModuleConfig) { c.Transforms[0].OnError = "retry" }},
		{"route unknown source", func(c *types.ModuleConfig) { c.Routes[0].When.Source = "ghost" }},
		{"route unknown actor", func(c *types.ModuleConfig) { c.Routes[0].Then.Actor = "ghost" }},
		{"route unknown transform", func(c *types.ModuleConfig) { c.Routes[0].Transforms[0].Ref = "ghost" }},
		{"route without events", func(c *types.ModuleConfig) { c.Routes[0].When.Events = nil }},
		{"route bad ref policy", func(c *types.ModuleConfig) { c.Routes[0].Transforms[0].OnError = "explode" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("{{nope"))
	assert.Error(t, err)
}

func TestResolveUnknownKinds(t *testing.T) {
	cfg := types.ModuleConfig{
		Name:    "eng",
		Sources: []types.SourceConfig{{ID: "gh", Kind: "no-such-kind"}},
	}
	_, err := Resolve(cfg)
	assert.Error(t, err)
}

func TestResolveScriptTransformInProcess(t *testing.T) {
	cfg := types.ModuleConfig{
		Name: "eng",
		Transforms: []types.TransformDef{{
			Name: "scrub",
			Kind: types.TransformKindScript,
			Config: map[string]any{"command": "./scrub.sh"},
		}},
	}
	set, err := Resolve(cfg)
	require.NoError(t, err)
	require.Contains(t, set.Transforms, "scrub")
}
