package telemetry

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestBus_SubscribeAndUnsubscribe(t *testing.T) {
	bus := NewBus()

	var first, second int
	s1 := bus.OnVital(func(VitalSample) { first++ })
	s2 := bus.OnVital(func(VitalSample) { second++ })

	if n := bus.PublishVital(VitalSample{Name: VitalLCP}); n != 2 {
		t.Errorf("Expected 2 handlers reached, got %d", n)
	}

	s1.Unsubscribe()
	s1.Unsubscribe() // second call is a no-op
	bus.PublishVital(VitalSample{Name: VitalLCP})
	s2.Unsubscribe()
	bus.PublishVital(VitalSample{Name: VitalLCP})

	if first != 1 || second != 2 {
		t.Errorf("Unexpected deliveries: first=%d second=%d", first, second)
	}
}

func TestBus_KindsAreIndependent(t *testing.T) {
	bus := NewBus()
	var interactions, navigations int
	bus.OnInteraction(func(InteractionEvent) { interactions++ })
	bus.OnNavigation(func(NavigationTiming) { navigations++ })

	bus.PublishInteraction(InteractionEvent{Type: "click"})
	if n := bus.PublishVital(VitalSample{}); n != 0 {
		t.Errorf("Expected no vital handlers, got %d", n)
	}

	if interactions != 1 || navigations != 0 {
		t.Errorf("interactions=%d navigations=%d", interactions, navigations)
	}
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.OnInteraction(func(InteractionEvent) { panic("handler bug") })
	bus.OnInteraction(func(InteractionEvent) { delivered = true })

	bus.PublishInteraction(InteractionEvent{Type: "click"})

	if !delivered {
		t.Error("Healthy handler should still receive the event")
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()
	var count atomic.Int64
	sub := bus.OnVital(func(VitalSample) { count.Add(1) })
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.PublishVital(VitalSample{Name: VitalCLS})
			}
		}()
	}
	// Subscriptions may change while publishing
	for i := 0; i < 10; i++ {
		bus.OnVital(func(VitalSample) {}).Unsubscribe()
	}
	wg.Wait()

	if count.Load() != 1000 {
		t.Errorf("Expected 1000 deliveries, got %d", count.Load())
	}
}

func TestElementInfo(t *testing.T) {
	el := ElementInfo{Tag: "BUTTON", Attributes: map[string]string{"id": "roll"}, InnerText: "Roll"}
	if el.TagName() != "button" {
		t.Errorf("TagName() = %q", el.TagName())
	}
	if el.Attribute("id") != "roll" || el.Attribute("name") != "" {
		t.Error("Attribute lookup mismatch")
	}
	if (ElementInfo{}).Attribute("id") != "" {
		t.Error("nil attribute map must read as absent")
	}
}
