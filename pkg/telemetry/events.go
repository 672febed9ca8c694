package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a message posted for UI observers.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the update run that posted the event.
	RunID string `json:"run_id,omitempty"`

	// Command is the UI command, e.g. set_progress.
	Command string `json:"cmd"`

	// Content is the command payload.
	Content string `json:"content"`
}

// EventSubscriber handles a published event.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher delivers events to subscribers on a background goroutine.
// Publish never blocks; when the buffer is full the event is dropped.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	dropped     int

	// sendMu orders buffer sends before the stop; closed is set under it.
	sendMu sync.RWMutex
	closed bool
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	ep.wg.Add(1)
	go ep.processEvents()

	return ep, nil
}

// Publish enqueues an event for delivery.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.sendMu.RLock()
	defer ep.sendMu.RUnlock()
	if ep.closed {
		return fmt.Errorf("event publisher stopped")
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		ep.mu.Lock()
		ep.dropped++
		ep.mu.Unlock()
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// PublishMessage publishes a UI command.
func (ep *EventPublisher) PublishMessage(runID, cmd, content string) error {
	return ep.Publish(Event{
		RunID:   runID,
		Command: cmd,
		Content: content,
	})
}

// Subscribe registers a subscriber for all events.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber) {
	ep.SubscribeWithFilter(subscriber, nil)
}

// SubscribeWithFilter registers a subscriber for events accepted by filter.
func (ep *EventPublisher) SubscribeWithFilter(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// Dropped returns the number of events dropped because the buffer was full.
func (ep *EventPublisher) Dropped() int {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	return ep.dropped
}

// processEvents delivers buffered events in publish order.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains buffered events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.sendMu.Lock()
	ep.closed = true
	ep.sendMu.Unlock()
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByCommand creates a filter that only allows the given commands.
func FilterByCommand(cmds ...string) EventFilter {
	set := make(map[string]bool, len(cmds))
	for _, c := range cmds {
		set[c] = true
	}
	return func(event Event) bool {
		return set[event.Command]
	}
}
