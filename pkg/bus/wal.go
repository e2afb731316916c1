package bus

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/orgloop/orgloop/pkg/log"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var bucketJournal = []byte("journal")

// journalEntry is the durable record for one published event
type journalEntry struct {
	Module      string       `json:"module"`
	Event       *types.Event `json:"event"`
	PublishedAt time.Time    `json:"published_at"`
	AckedAt     *time.Time   `json:"acked_at,omitempty"`
}

// DurableBus layers a write-ahead journal over the in-memory bus. Every
// publish is appended to the journal before any subscriber runs; on start
// the runtime replays unacked entries. Together with actor idempotency this
// yields at-least-once delivery across process crashes.
type DurableBus struct {
	*MemoryBus
	db     *bolt.DB
	logger zerolog.Logger
}

// NewDurableBus opens (or creates) the journal in dataDir and wraps a fresh
// in-memory bus
func NewDurableBus(dataDir string, sink func(error)) (*DurableBus, error) {
	dbPath := filepath.Join(dataDir, "wal.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJournal)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DurableBus{
		MemoryBus: NewMemoryBus(sink),
		db:        db,
		logger:    log.WithComponent("wal"),
	}, nil
}

// Publish appends the event to the journal, then publishes in memory
func (b *DurableBus) Publish(module string, event *types.Event) error {
	entry := journalEntry{
		Module:      module,
		Event:       event,
		PublishedAt: time.Now().UTC(),
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketJournal).Put([]byte(event.ID), data)
	})
	if err != nil {
		return fmt.Errorf("journal append failed: %w", err)
	}
	return b.MemoryBus.publish(module, event)
}

// Ack marks the journal entry complete and removes the event from the
// pending set
func (b *DurableBus) Ack(eventID string) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketJournal)
		data := bkt.Get([]byte(eventID))
		if data == nil {
			return nil
		}
		var entry journalEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		now := time.Now().UTC()
		entry.AckedAt = &now
		updated, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(eventID), updated)
	})
	if err != nil {
		b.logger.Error().Err(err).Str("event_id", eventID).Msg("Failed to ack journal entry")
	}
	b.MemoryBus.Ack(eventID)
}

// Replay re-publishes every unacked journal entry to the in-memory bus.
// Called once on start, after subscriptions for restored modules exist.
func (b *DurableBus) Replay() (int, error) {
	var entries []journalEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJournal).ForEach(func(k, v []byte) error {
			var entry journalEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.AckedAt == nil {
				entries = append(entries, entry)
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("journal scan failed: %w", err)
	}

	for _, entry := range entries {
		if err := b.MemoryBus.publish(entry.Module, entry.Event); err != nil {
			return 0, err
		}
	}

	if len(entries) > 0 {
		b.logger.Info().Int("count", len(entries)).Msg("Replayed unacked journal entries")
	}
	return len(entries), nil
}

// Compact removes acked entries older than the retention horizon
func (b *DurableBus) Compact(retention time.Duration) error {
	horizon := time.Now().UTC().Add(-retention)
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketJournal)
		c := bkt.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry journalEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			if entry.AckedAt != nil && entry.AckedAt.Before(horizon) {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Close stops subscriptions and closes the journal
func (b *DurableBus) Close() {
	b.MemoryBus.Close()
	if err := b.db.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Failed to close journal")
	}
}
