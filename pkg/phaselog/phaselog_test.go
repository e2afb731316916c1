package phaselog

import (
	"sync"
	"testing"

	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLogger struct {
	mu      sync.Mutex
	records []types.Record
	flushes int
	panicky bool
}

func (m *memLogger) Init(config map[string]any) error { return nil }
func (m *memLogger) Shutdown() error                  { return nil }
func (m *memLogger) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}
func (m *memLogger) Log(rec types.Record) {
	if m.panicky {
		panic("bad logger")
	}
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
}

func (m *memLogger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func TestEmitBroadcastsToEveryLogger(t *testing.T) {
	f := NewFanout()
	a, b := &memLogger{}, &memLogger{}
	f.Attach("eng", []connector.Logger{a})
	f.Attach("ops", []connector.Logger{b})

	f.Emit(types.Record{Phase: types.PhaseSourceEmit, EventID: "evt_1"})

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	// Timestamp is stamped when absent.
	a.mu.Lock()
	assert.False(t, a.records[0].Timestamp.IsZero())
	a.mu.Unlock()
}

func TestDetachStopsDelivery(t *testing.T) {
	f := NewFanout()
	a := &memLogger{}
	f.Attach("eng", []connector.Logger{a})

	f.Emit(types.Record{Phase: types.PhaseSourceEmit})
	f.Detach("eng")
	f.Emit(types.Record{Phase: types.PhaseSourceEmit})

	assert.Equal(t, 1, a.count())
}

func TestWatcherTapAndRemoval(t *testing.T) {
	f := NewFanout()

	var mu sync.Mutex
	var seen []types.Phase
	remove := f.Watch(func(rec types.Record) {
		mu.Lock()
		seen = append(seen, rec.Phase)
		mu.Unlock()
	})

	f.Emit(types.Record{Phase: types.PhaseRouteMatch})
	remove()
	f.Emit(types.Record{Phase: types.PhaseRouteNoMatch})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, types.PhaseRouteMatch, seen[0])
}

func TestPanickingLoggerDoesNotAbortBroadcast(t *testing.T) {
	f := NewFanout()
	bad := &memLogger{panicky: true}
	good := &memLogger{}
	f.Attach("eng", []connector.Logger{bad, good})

	assert.NotPanics(t, func() {
		f.Emit(types.Record{Phase: types.PhaseSourceEmit})
	})
	assert.Equal(t, 1, good.count())
}

func TestFlushVisitsEveryLogger(t *testing.T) {
	f := NewFanout()
	a, b := &memLogger{}, &memLogger{}
	f.Attach("eng", []connector.Logger{a, b})

	f.Flush()
	assert.Equal(t, 1, a.flushes)
	assert.Equal(t, 1, b.flushes)
}
