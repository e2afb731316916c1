package runtime

import (
	"testing"
	"time"

	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// An event journaled but never acked before the process died is re-published
// and delivered after restart: at-least-once across crashes.
func TestDurableBusRedeliversAfterRestart(t *testing.T) {
	dir := t.TempDir()

	cfg := Config{
		DataDir:      dir,
		DurableBus:   true,
		DrainTimeout: 2 * time.Second,
	}

	rt1, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, rt1.Start())

	// Publish straight to the bus with no module routing it: the journal
	// entry stays unacked, as it would if the process crashed mid-flight.
	ev := types.NewEvent("gh", types.EventResourceChanged)
	ev.Payload = map[string]any{"n": 1}
	require.NoError(t, rt1.Bus().Publish("eng", ev))
	rt1.Stop()

	// Restart over the same data dir, restore the module, then replay.
	rt2, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, rt2.Start())
	t.Cleanup(rt2.Stop)

	actor := &fakeActor{}
	set := connector.Set{
		Sources: map[string]connector.Source{"gh": &fakeSource{}},
		Actors:  map[string]connector.Actor{"agent": actor},
	}
	moduleCfg := types.ModuleConfig{
		Name:    "eng",
		Sources: []types.SourceConfig{{ID: "gh", Kind: "fake"}},
		Actors:  []types.ActorConfig{{ID: "agent", Kind: "fake"}},
		Routes: []types.Route{{
			Name: "r1",
			When: types.RouteTrigger{Source: "gh", Events: []types.EventType{types.EventResourceChanged}},
			Then: types.RouteTarget{Actor: "agent"},
		}},
	}
	_, err = rt2.LoadModule(moduleCfg, staticFactory(set))
	require.NoError(t, err)

	n, err := rt2.ReplayWAL()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	waitUntil(t, 2*time.Second, func() bool { return len(actor.events()) == 1 })
	assert.Equal(t, ev.ID, actor.events()[0].ID)

	// Delivered and acked: a further restart replays nothing.
	waitUntil(t, 2*time.Second, func() bool { return len(rt2.Bus().Unacked()) == 0 })
	rt2.Stop()

	rt3, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, rt3.Start())
	t.Cleanup(rt3.Stop)

	n, err = rt3.ReplayWAL()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
