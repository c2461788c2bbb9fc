package chitragupta

import "testing"

func TestEventBusSubscribeEmit(t *testing.T) {
	bus := NewEventBus()
	var got []Event
	unsub := bus.Subscribe(func(ev Event) { got = append(got, ev) })

	bus.Emit(Event{Type: EventTurnStart, AgentID: "a1"})
	if len(got) != 1 || got[0].Type != EventTurnStart {
		t.Fatalf("got %v, want one turn:start", got)
	}
	if got[0].Time == 0 {
		t.Error("Emit must stamp the event time")
	}

	unsub()
	bus.Emit(Event{Type: EventTurnDone})
	if len(got) != 1 {
		t.Error("unsubscribed callback still received events")
	}
}

func TestEventBusPanicSafe(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(func(Event) { panic("bad subscriber") })
	delivered := false
	bus.Subscribe(func(Event) { delivered = true })

	bus.Emit(Event{Type: EventStreamText})
	if !delivered {
		t.Error("a panicking subscriber must not stop delivery to others")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	count := 0
	for i := 0; i < 3; i++ {
		bus.Subscribe(func(Event) { count++ })
	}
	bus.Emit(Event{Type: EventToolDone})
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
