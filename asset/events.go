package asset

import (
	"context"
	"sync/atomic"
)

// Publisher receives lifecycle events after their unit of work commits.
// Publish must not block the caller; delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, events ...HistoryEntry)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, ...HistoryEntry) {}

// ChannelPublisher buffers events on a channel for one consumer. When the
// buffer is full the event is dropped and counted; the audit trail in the
// store remains the durable record.
type ChannelPublisher struct {
	ch      chan HistoryEntry
	dropped atomic.Int64
}

func NewChannelPublisher(buffer int) *ChannelPublisher {
	return &ChannelPublisher{ch: make(chan HistoryEntry, buffer)}
}

func (p *ChannelPublisher) Publish(_ context.Context, events ...HistoryEntry) {
	for _, e := range events {
		select {
		case p.ch <- e:
		default:
			p.dropped.Add(1)
		}
	}
}

// Events is the consumer side.
func (p *ChannelPublisher) Events() <-chan HistoryEntry { return p.ch }

// Dropped reports how many events were lost to a full buffer.
func (p *ChannelPublisher) Dropped() int64 { return p.dropped.Load() }

// Publishers fans out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, events ...HistoryEntry) {
	for _, p := range ps {
		p.Publish(ctx, events...)
	}
}
