package infrastructure

import (
	"context"

	"github.com/meinzeug/autodevai-orchestrator/shared/events"
	"github.com/rs/zerolog/log"
)

var _ events.Publisher = (*StorePublisher)(nil)

// StorePublisher decorates a Publisher with an audit trail: every event
// is appended to the store before it goes out. A store failure is logged
// but never blocks delivery; the audit log is an observability aid, not
// part of the delivery contract.
type StorePublisher struct {
	inner events.Publisher
	store events.EventStore
}

// NewStorePublisher creates a new StorePublisher
func NewStorePublisher(inner events.Publisher, store events.EventStore) *StorePublisher {
	return &StorePublisher{inner: inner, store: store}
}

// Publish appends the events to the store, then delegates
func (p *StorePublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	if err := p.store.Append(ctx, evts...); err != nil {
		log.Warn().Err(err).Int("events", len(evts)).Msg("failed to append events to audit store")
	}

	return p.inner.Publish(ctx, evts...)
}
