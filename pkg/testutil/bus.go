package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/atlasworks/convoy/pkg/eventbus"
	"github.com/atlasworks/convoy/pkg/events"
)

// CapturingBus records published events in memory for assertions.
type CapturingBus struct {
	mu        sync.Mutex
	published []eventbus.Event
	handlers  map[events.EventType]eventbus.EventHandler
}

// NewCapturingBus creates an empty capturing bus.
func NewCapturingBus() *CapturingBus {
	return &CapturingBus{handlers: make(map[events.EventType]eventbus.EventHandler)}
}

func (b *CapturingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, event)

	return nil
}

func (b *CapturingBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = handler

	return nil
}

func (b *CapturingBus) Subscribe(_ context.Context) error {
	return nil
}

func (b *CapturingBus) Close() error {
	return nil
}

func (b *CapturingBus) GenerateID() string {
	return uuid.New().String()
}

// Published returns a copy of everything published so far.
func (b *CapturingBus) Published() []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]eventbus.Event(nil), b.published...)
}

// PublishedTypes returns the event types published in order.
func (b *CapturingBus) PublishedTypes() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()

	types := make([]events.EventType, len(b.published))
	for i, event := range b.published {
		types[i] = event.GetType()
	}

	return types
}
