package telemetry

import (
	"strings"
	"sync"
	"time"
)

// Element is the view of a DOM element the interaction tracker needs.
type Element interface {
	TagName() string
	// Attribute returns the attribute value, "" when absent.
	Attribute(name string) string
	// Text returns the visible text content.
	Text() string
}

// ElementInfo is an Element reported by the browser in a beacon.
type ElementInfo struct {
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes,omitempty"`
	InnerText  string            `json:"text,omitempty"`
}

// TagName returns the lower-cased tag name
func (e ElementInfo) TagName() string { return strings.ToLower(e.Tag) }

// Attribute returns the named attribute, "" when absent
func (e ElementInfo) Attribute(name string) string { return e.Attributes[name] }

// Text returns the visible text content
func (e ElementInfo) Text() string { return e.InnerText }

// InteractionEvent is one user interaction on an element.
type InteractionEvent struct {
	Type      string      `json:"type"`
	Target    ElementInfo `json:"target"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`

	// DurationMs is how long the interaction lasted in the browser, when the
	// event is recorded rather than live.
	DurationMs float64 `json:"duration_ms,omitempty"`
}

// EndTime is when the recorded interaction finished. It is zero when the
// event carries no timestamp.
func (e InteractionEvent) EndTime() time.Time {
	if e.Timestamp.IsZero() {
		return time.Time{}
	}
	if e.DurationMs <= 0 {
		return e.Timestamp
	}
	return e.Timestamp.Add(time.Duration(e.DurationMs * float64(time.Millisecond)))
}

// VitalName identifies a page vital signal.
type VitalName string

const (
	VitalLCP VitalName = "LCP"
	VitalCLS VitalName = "CLS"
	VitalFID VitalName = "FID"
	VitalINP VitalName = "INP"
)

// VitalSample is one reported vitals measurement.
type VitalSample struct {
	Name      VitalName `json:"name"`
	Value     float64   `json:"value"`
	Rating    string    `json:"rating,omitempty"` // good, needs-improvement, poor
	SessionID string    `json:"session_id,omitempty"`
}

// ResourceTiming is one entry of the resource timing buffer.
type ResourceTiming struct {
	Name          string    `json:"name"`
	InitiatorType string    `json:"initiator_type"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

// NavigationTiming carries the timestamps of one page load.
type NavigationTiming struct {
	SessionID        string           `json:"session_id"`
	URL              string           `json:"url"`
	NavigationStart  time.Time        `json:"navigation_start"`
	FetchStart       time.Time        `json:"fetch_start"`
	ResponseEnd      time.Time        `json:"response_end"`
	DOMContentLoaded time.Time        `json:"dom_content_loaded"`
	LoadEventEnd     time.Time        `json:"load_event_end"`
	Resources        []ResourceTiming `json:"resources,omitempty"`
}

// Subscription is a cancellable handle on an event subscription.
type Subscription interface {
	Unsubscribe()
}

// InteractionSource delivers interaction events.
type InteractionSource interface {
	OnInteraction(fn func(InteractionEvent)) Subscription
}

// VitalsSource delivers vitals samples.
type VitalsSource interface {
	OnVital(fn func(VitalSample)) Subscription
}

// NavigationSource delivers page load timings.
type NavigationSource interface {
	OnNavigation(fn func(NavigationTiming)) Subscription
}

// Bus is an in-process event source fed by the host with browser beacons.
// Handlers run synchronously on the publishing goroutine, each one isolated
// from the others' panics.
type Bus struct {
	mu           sync.RWMutex
	nextID       uint64
	interactions map[uint64]func(InteractionEvent)
	vitals       map[uint64]func(VitalSample)
	navigations  map[uint64]func(NavigationTiming)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		interactions: make(map[uint64]func(InteractionEvent)),
		vitals:       make(map[uint64]func(VitalSample)),
		navigations:  make(map[uint64]func(NavigationTiming)),
	}
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() { s.once.Do(s.cancel) }

// subscribe registers fn in handlers under a fresh id.
func subscribe[T any](b *Bus, handlers map[uint64]func(T), fn func(T)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	handlers[id] = fn
	return &subscription{cancel: func() {
		b.mu.Lock()
		delete(handlers, id)
		b.mu.Unlock()
	}}
}

// publish delivers ev to a snapshot of handlers.
func publish[T any](b *Bus, handlers map[uint64]func(T), kind string, ev T) int {
	b.mu.RLock()
	snapshot := make([]func(T), 0, len(handlers))
	for _, fn := range handlers {
		snapshot = append(snapshot, fn)
	}
	b.mu.RUnlock()

	for _, fn := range snapshot {
		deliver(kind, fn, ev)
	}
	return len(snapshot)
}

func deliver[T any](kind string, fn func(T), ev T) {
	defer func() {
		if r := recover(); r != nil {
			GetLogger().Error("Event handler panicked", map[string]interface{}{
				"event_kind": kind,
				"error":      r,
			})
		}
	}()
	fn(ev)
}

// OnInteraction implements InteractionSource.
func (b *Bus) OnInteraction(fn func(InteractionEvent)) Subscription {
	return subscribe(b, b.interactions, fn)
}

// OnVital implements VitalsSource.
func (b *Bus) OnVital(fn func(VitalSample)) Subscription {
	return subscribe(b, b.vitals, fn)
}

// OnNavigation implements NavigationSource.
func (b *Bus) OnNavigation(fn func(NavigationTiming)) Subscription {
	return subscribe(b, b.navigations, fn)
}

// PublishInteraction delivers ev and returns the number of handlers reached.
func (b *Bus) PublishInteraction(ev InteractionEvent) int {
	return publish(b, b.interactions, "interaction", ev)
}

// PublishVital delivers s and returns the number of handlers reached.
func (b *Bus) PublishVital(s VitalSample) int {
	return publish(b, b.vitals, "vital", s)
}

// PublishNavigation delivers n and returns the number of handlers reached.
func (b *Bus) PublishNavigation(n NavigationTiming) int {
	return publish(b, b.navigations, "navigation", n)
}
