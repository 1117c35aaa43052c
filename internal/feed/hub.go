// Package feed delivers insert/update/delete events on store collections to
// in-process subscribers.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"allies-service/internal/observability"
)

const (
	CollectionConnectionRequests = "connection_requests"
	CollectionListings           = "marketplace_listings"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event is one row change. Record holds the new row, or the old row for deletes.
type Event struct {
	Collection string          `json:"collection"`
	Op         Op              `json:"op"`
	Record     json.RawMessage `json:"record"`
}

func NewEvent(collection string, op Op, record any) (Event, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s record: %w", collection, err)
	}
	return Event{Collection: collection, Op: op, Record: raw}, nil
}

// Filter matches events whose record has Field equal to Value. The zero Filter
// matches every event of the collection.
type Filter struct {
	Field string
	Value string
}

func Eq(field, value string) Filter { return Filter{Field: field, Value: value} }

type Handler func(Event)

type SubscriptionID uint64

// Sink accepts events produced by writers.
type Sink interface {
	Publish(Event)
}

var ErrClosed = errors.New("feed closed")

const defaultQueueSize = 16

type subscription struct {
	collection string
	filter     Filter
	queue      chan Event
}

// Hub fans events out to subscribers. Each subscription gets its own goroutine
// and bounded queue so a slow handler never blocks a writer; when the queue is
// full the event is dropped.
type Hub struct {
	mu        sync.RWMutex
	subs      map[SubscriptionID]*subscription
	nextID    SubscriptionID
	closed    bool
	queueSize int
	logger    *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:      make(map[SubscriptionID]*subscription),
		queueSize: defaultQueueSize,
		logger:    logger,
	}
}

func (h *Hub) Subscribe(collection string, filter Filter, handler Handler) (SubscriptionID, error) {
	if handler == nil {
		return 0, errors.New("feed: nil handler")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}

	h.nextID++
	id := h.nextID
	sub := &subscription{
		collection: collection,
		filter:     filter,
		queue:      make(chan Event, h.queueSize),
	}
	h.subs[id] = sub
	observability.SetFeedSubscriptions(len(h.subs))

	go func() {
		for ev := range sub.queue {
			handler(ev)
		}
	}()

	return id, nil
}

// Unsubscribe is safe to call more than once.
func (h *Hub) Unsubscribe(id SubscriptionID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.queue)
	observability.SetFeedSubscriptions(len(h.subs))
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	var fields map[string]any
	var decoded, bad bool
	for id, sub := range h.subs {
		if sub.collection != ev.Collection {
			continue
		}
		if sub.filter.Field != "" {
			if !decoded {
				decoded = true
				if err := json.Unmarshal(ev.Record, &fields); err != nil {
					bad = true
					h.logger.Warn("feed: undecodable record", "collection", ev.Collection, "err", err)
				}
			}
			// filtered subscribers cannot be matched against an undecodable record
			if bad || !matches(fields, sub.filter) {
				continue
			}
		}

		select {
		case sub.queue <- ev:
		default:
			observability.IncFeedEventsDropped(ev.Collection)
			h.logger.Warn("feed: subscriber queue full, dropping event", "collection", ev.Collection, "subscription", id)
		}
	}
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.queue)
		delete(h.subs, id)
	}
	observability.SetFeedSubscriptions(0)
}

func matches(fields map[string]any, f Filter) bool {
	v, ok := fields[f.Field]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s == f.Value
	}
	return fmt.Sprint(v) == f.Value
}
