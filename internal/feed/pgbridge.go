package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// PGBridge listens on a Postgres NOTIFY channel and republishes the payloads
// into a Sink. Payloads are the JSON form of Event.
type PGBridge struct {
	dsn     string
	channel string
	sink    Sink
	logger  *slog.Logger
}

func NewPGBridge(dsn, channel string, sink Sink, logger *slog.Logger) *PGBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGBridge{dsn: dsn, channel: channel, sink: sink, logger: logger}
}

// Run blocks until ctx is done.
func (b *PGBridge) Run(ctx context.Context) error {
	listener := pq.NewListener(b.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			b.logger.Warn("feed: postgres listener event", "event", int(ev), "err", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(b.channel); err != nil {
		return fmt.Errorf("listen %s: %w", b.channel, err)
	}
	b.logger.Info("feed: listening for changes", "channel", b.channel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-listener.Notify:
			if !ok {
				return nil
			}
			// nil after a reconnect; notifications may have been missed
			if n == nil {
				b.logger.Info("feed: listener reconnected")
				continue
			}
			ev, err := DecodeNotification(n.Extra)
			if err != nil {
				b.logger.Warn("feed: bad notification payload", "err", err)
				continue
			}
			b.sink.Publish(ev)
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				b.logger.Warn("feed: listener ping failed", "err", err)
			}
		}
	}
}

func DecodeNotification(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("decode notification: %w", err)
	}
	if ev.Collection == "" || len(ev.Record) == 0 {
		return Event{}, fmt.Errorf("decode notification: missing collection or record")
	}
	switch ev.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return Event{}, fmt.Errorf("decode notification: unknown op %q", ev.Op)
	}
	return ev, nil
}
