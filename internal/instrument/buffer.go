// Package instrument journals model changes to the store.
package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"exoweb/internal/store"
)

// Event is one model change waiting to be written. Value must already be
// in JSON form.
type Event struct {
	Kind     string
	Type     string
	ID       string
	Property string
	Value    any
	Model    string
}

// EventBuffer collects events in memory and periodically flushes them
// to the _changes table in a batch insert.
type EventBuffer struct {
	mu      sync.Mutex
	events  []Event
	store   *store.Store
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
	stop    sync.Once
	flushes conc.WaitGroup
	log     *logrus.Entry
}

// NewEventBuffer creates a buffer that flushes on a timer or when full.
func NewEventBuffer(s *store.Store, maxSize int, interval time.Duration, log *logrus.Entry) *EventBuffer {
	if maxSize <= 0 {
		maxSize = 100
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	eb := &EventBuffer{
		store:   s,
		maxSize: maxSize,
		done:    make(chan struct{}),
		log:     log.WithField("component", "journal"),
	}
	eb.ticker = time.NewTicker(interval)
	go eb.run()
	return eb
}

func (eb *EventBuffer) run() {
	for {
		select {
		case <-eb.done:
			return
		case <-eb.ticker.C:
			eb.flushLogged()
		}
	}
}

// Enqueue adds an event to the buffer. If the buffer is full, a flush
// is triggered asynchronously.
func (eb *EventBuffer) Enqueue(event Event) {
	eb.mu.Lock()
	eb.events = append(eb.events, event)
	shouldFlush := len(eb.events) >= eb.maxSize
	eb.mu.Unlock()
	if shouldFlush {
		eb.flushes.Go(eb.flushLogged)
	}
}

// Len returns the number of events waiting to be flushed.
func (eb *EventBuffer) Len() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.events)
}

func (eb *EventBuffer) flushLogged() {
	if err := eb.Flush(context.Background()); err != nil {
		eb.log.WithError(err).Error("journal flush failed")
	}
}

// Flush writes all buffered events to the database in a single
// transaction. Events of a failed flush are dropped.
func (eb *EventBuffer) Flush(ctx context.Context) error {
	eb.mu.Lock()
	if len(eb.events) == 0 {
		eb.mu.Unlock()
		return nil
	}
	batch := eb.events
	eb.events = nil
	eb.mu.Unlock()

	recs := make([]store.ChangeRecord, len(batch))
	for i, e := range batch {
		recs[i] = store.ChangeRecord{Kind: e.Kind, Type: e.Type, ID: e.ID, Property: e.Property, Model: e.Model}
		if e.Value != nil {
			raw, err := json.Marshal(e.Value)
			if err != nil {
				return fmt.Errorf("encode %s change of %s|%s: %w", e.Kind, e.Type, e.ID, err)
			}
			recs[i].Value = raw
		}
	}

	tx, err := eb.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	if err := eb.store.InsertChanges(ctx, tx, recs); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal: %w", err)
	}
	eb.log.WithField("events", len(recs)).Debug("journal flushed")
	return nil
}

// Stop halts the background ticker, waits for pending flushes and
// flushes remaining events. Calling it again has no effect.
func (eb *EventBuffer) Stop() {
	eb.stop.Do(func() {
		eb.ticker.Stop()
		close(eb.done)
		eb.flushes.Wait()
		eb.flushLogged()
	})
}
