package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a deploy lifecycle event.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	// Source identifies the component that emitted the event.
	Source string `json:"source"`

	ProjectID string `json:"project_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	AttemptID string `json:"attempt_id,omitempty"`

	Message string `json:"message"`

	// Level is info, warning or error.
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeDeployStarted     = "deploy.started"
	EventTypeDeploySucceeded   = "deploy.succeeded"
	EventTypeDeployFailed      = "deploy.failed"
	EventTypeTeardownCompleted = "teardown.completed"
	EventTypePolicyWarning     = "policy.warning"
	EventTypeProjectCreated    = "project.created"
	EventTypeProjectUpdated    = "project.updated"
	EventTypeProjectDeleted    = "project.deleted"
	EventTypeEnvVarChanged     = "project.env_var_changed"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// ErrPublisherStopped is returned by Publish after Shutdown.
var ErrPublisherStopped = errors.New("event publisher stopped")

// EventSubscriber handles events. Subscribers run on the delivery goroutine
// and see events in publish order.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan envelope
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	deliverMu   sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// envelope carries an event or, when flushed is set, a flush marker.
type envelope struct {
	event   Event
	flushed chan struct{}
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if !cfg.Enabled {
		return ep, nil
	}

	if cfg.EnableAsync {
		if cfg.BufferSize <= 0 {
			cancel()
			return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
		}
		ep.buffer = make(chan envelope, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep, nil
}

// Publish publishes an event to all subscribers. With async delivery a full
// buffer drops the event and returns an error; the caller's work is never
// blocked on subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if ep.ctx.Err() != nil {
		return ErrPublisherStopped
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case ep.buffer <- envelope{event: event}:
		return nil
	case <-ep.ctx.Done():
		return ErrPublisherStopped
	default:
		return fmt.Errorf("event buffer full, %s dropped", event.Type)
	}
}

// PublishDeployStarted publishes a deploy started event.
func (ep *EventPublisher) PublishDeployStarted(projectID, userID, attemptID, provider string) error {
	return ep.Publish(Event{
		Type:      EventTypeDeployStarted,
		Source:    "orchestrator",
		ProjectID: projectID,
		UserID:    userID,
		AttemptID: attemptID,
		Message:   "deploy started",
		Data:      map[string]interface{}{"provider": provider},
	})
}

// PublishDeploySucceeded publishes a deploy success event.
func (ep *EventPublisher) PublishDeploySucceeded(projectID, userID, attemptID, url string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:      EventTypeDeploySucceeded,
		Source:    "orchestrator",
		ProjectID: projectID,
		UserID:    userID,
		AttemptID: attemptID,
		Message:   "deploy succeeded",
		Data: map[string]interface{}{
			"url":         url,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// PublishDeployFailed publishes a deploy failure event.
func (ep *EventPublisher) PublishDeployFailed(projectID, userID, attemptID, code, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypeDeployFailed,
		Source:    "orchestrator",
		ProjectID: projectID,
		UserID:    userID,
		AttemptID: attemptID,
		Level:     EventLevelError,
		Message:   reason,
		Data:      map[string]interface{}{"code": code, "error": reason},
	})
}

// PublishTeardownCompleted publishes a teardown event.
func (ep *EventPublisher) PublishTeardownCompleted(projectID, userID, stackID string) error {
	return ep.Publish(Event{
		Type:      EventTypeTeardownCompleted,
		Source:    "orchestrator",
		ProjectID: projectID,
		UserID:    userID,
		Message:   "stack destroyed",
		Data:      map[string]interface{}{"stack_id": stackID},
	})
}

// PublishPolicyWarning publishes a non-blocking policy finding.
func (ep *EventPublisher) PublishPolicyWarning(projectID, userID, policyName, message string) error {
	return ep.Publish(Event{
		Type:      EventTypePolicyWarning,
		Source:    "policy",
		ProjectID: projectID,
		UserID:    userID,
		Level:     EventLevelWarning,
		Message:   message,
		Data:      map[string]interface{}{"policy": policyName},
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// Flush blocks until every event published before the call was delivered.
func (ep *EventPublisher) Flush(ctx context.Context) error {
	if !ep.config.Enabled || !ep.config.EnableAsync {
		return nil
	}
	marker := envelope{flushed: make(chan struct{})}
	select {
	case ep.buffer <- marker:
	case <-ep.ctx.Done():
		return ErrPublisherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for {
		select {
		case env := <-ep.buffer:
			ep.handle(env)
		case <-ep.ctx.Done():
			for {
				select {
				case env := <-ep.buffer:
					ep.handle(env)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) handle(env envelope) {
	if env.flushed != nil {
		close(env.flushed)
		return
	}
	ep.deliverEvent(env.event)
}

// deliverEvent runs matching subscribers in order. Synchronous publishers
// serialize delivery so subscribers never run concurrently.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.deliverMu.Lock()
	defer ep.deliverMu.Unlock()

	ep.mu.RLock()
	subs := make([]subscriberEntry, len(ep.subscribers))
	copy(subs, ep.subscribers)
	ep.mu.RUnlock()

	for _, entry := range subs {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops accepting events and waits for buffered ones to be delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.cancel()
	if !ep.config.Enabled {
		return nil
	}

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

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByProject creates a filter that only allows events for one project.
func FilterByProject(projectID string) EventFilter {
	return func(event Event) bool {
		return event.ProjectID == projectID
	}
}
