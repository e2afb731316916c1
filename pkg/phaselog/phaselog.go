package phaselog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/log"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/rs/zerolog"
)

// Fanout broadcasts phase records to every registered logger. Modules attach
// their logger roster on activation and detach on unload; watchers are
// transient taps used by the live event stream.
type Fanout struct {
	mu       sync.RWMutex
	rosters  map[string][]connector.Logger
	watchers map[string]func(types.Record)
	logger   zerolog.Logger
}

// NewFanout creates an empty fan-out
func NewFanout() *Fanout {
	return &Fanout{
		rosters:  make(map[string][]connector.Logger),
		watchers: make(map[string]func(types.Record)),
		logger:   log.WithComponent("phaselog"),
	}
}

// Attach registers a module's loggers
func (f *Fanout) Attach(module string, loggers []connector.Logger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rosters[module] = loggers
}

// Detach removes a module's loggers from the roster. The module remains
// responsible for flushing and shutting them down.
func (f *Fanout) Detach(module string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rosters, module)
}

// Watch registers a transient tap and returns a function that removes it
func (f *Fanout) Watch(fn func(types.Record)) func() {
	id := uuid.New().String()
	f.mu.Lock()
	f.watchers[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}
}

// Emit stamps and broadcasts one record. A misbehaving logger cannot abort
// the broadcast.
func (f *Fanout) Emit(rec types.Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	f.mu.RLock()
	var targets []connector.Logger
	for _, roster := range f.rosters {
		targets = append(targets, roster...)
	}
	var taps []func(types.Record)
	for _, fn := range f.watchers {
		taps = append(taps, fn)
	}
	f.mu.RUnlock()

	for _, l := range targets {
		f.deliver(l, rec)
	}
	for _, fn := range taps {
		fn(rec)
	}
}

func (f *Fanout) deliver(l connector.Logger, rec types.Record) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Str("phase", string(rec.Phase)).Msg(fmt.Sprintf("Logger panic: %v", r))
		}
	}()
	l.Log(rec)
}

// Flush flushes every registered logger
func (f *Fanout) Flush() {
	f.mu.RLock()
	var targets []connector.Logger
	for _, roster := range f.rosters {
		targets = append(targets, roster...)
	}
	f.mu.RUnlock()

	for _, l := range targets {
		if err := l.Flush(); err != nil {
			f.logger.Error().Err(err).Msg("Logger flush failed")
		}
	}
}
