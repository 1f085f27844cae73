package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan CameraOpenedEvent, 1)

	unsub := bus.Subscribe(func(e CameraOpenedEvent) {
		received <- e
	})
	defer unsub()

	event := CameraOpenedEvent{Serial: "08153"}
	bus.Publish(event)

	got := <-received
	if got.Serial != event.Serial {
		t.Errorf("Expected serial %s, got %s", event.Serial, got.Serial)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan SerialsUpdatedEvent, 1)
	received2 := make(chan SerialsUpdatedEvent, 1)

	unsub1 := bus.Subscribe(func(e SerialsUpdatedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e SerialsUpdatedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(SerialsUpdatedEvent{Serials: []string{"08153", "08154"}})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan CameraExceptionEvent, 1)

	unsub := bus.Subscribe(func(e CameraExceptionEvent) {
		received <- e
	})

	bus.Publish(CameraExceptionEvent{Message: "first"})
	<-received

	unsub()

	bus.Publish(CameraExceptionEvent{Message: "second"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	openReceived := make(chan bool, 1)
	frameReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ CameraOpenedEvent) {
		openReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ FrameReceivedEvent) {
		frameReceived <- true
	})
	defer unsub2()

	bus.Publish(CameraOpenedEvent{Serial: "08153"})
	<-openReceived

	select {
	case <-frameReceived:
		t.Fatal("Frame subscriber should NOT have received CameraOpenedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	bus.Publish(FrameReceivedEvent{Serial: "08153", Index: 1})
	<-frameReceived

	select {
	case <-openReceived:
		t.Fatal("Open subscriber should NOT have received FrameReceivedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ FrameReceivedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range eventsPerGoroutine {
				bus.Publish(FrameReceivedEvent{Serial: "08153", Index: uint64(i)})
			}
		}()
	}

	wg.Wait()

	// Read all expected events
	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"SerialsUpdated", SerialsUpdatedEvent{Serials: []string{"08153"}}},
		{"CameraOpened", CameraOpenedEvent{Serial: "08153"}},
		{"CameraClosed", CameraClosedEvent{Serial: "08153"}},
		{"PlayingChanged", PlayingChangedEvent{Serial: "08153", Playing: true}},
		{"SettingsRead", SettingsReadEvent{Serial: "08153"}},
		{"SettingChanged", SettingChangedEvent{Serial: "08153"}},
		{"FrameReceived", FrameReceivedEvent{Serial: "08153", Index: 1}},
		{"CameraException", CameraExceptionEvent{Message: "boom"}},
		{"WorkerExited", WorkerExitedEvent{ExitCode: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case SerialsUpdatedEvent:
				unsub = bus.Subscribe(func(e SerialsUpdatedEvent) { received <- e })
			case CameraOpenedEvent:
				unsub = bus.Subscribe(func(e CameraOpenedEvent) { received <- e })
			case CameraClosedEvent:
				unsub = bus.Subscribe(func(e CameraClosedEvent) { received <- e })
			case PlayingChangedEvent:
				unsub = bus.Subscribe(func(e PlayingChangedEvent) { received <- e })
			case SettingsReadEvent:
				unsub = bus.Subscribe(func(e SettingsReadEvent) { received <- e })
			case SettingChangedEvent:
				unsub = bus.Subscribe(func(e SettingChangedEvent) { received <- e })
			case FrameReceivedEvent:
				unsub = bus.Subscribe(func(e FrameReceivedEvent) { received <- e })
			case CameraExceptionEvent:
				unsub = bus.Subscribe(func(e CameraExceptionEvent) { received <- e })
			case WorkerExitedEvent:
				unsub = bus.Subscribe(func(e WorkerExitedEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestEventJSONSerialization(t *testing.T) {
	tests := []struct {
		name  string
		event any
	}{
		{
			"SettingsReadEvent",
			SettingsReadEvent{
				Serial:   "08153",
				Settings: map[string]any{"exposure_ms": 5.0},
			},
		},
		{
			"FrameReceivedEvent",
			FrameReceivedEvent{
				Serial:      "08153",
				PixelFormat: "mono16",
				Width:       1440,
				Height:      1080,
				Index:       42,
			},
		},
		{
			"WorkerExitedEvent",
			WorkerExitedEvent{ExitCode: 1, StderrTail: "panic: sensor gone"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			var result map[string]any
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
				t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
			}

			if len(result) == 0 {
				t.Fatal("Unmarshaled to empty object")
			}
		})
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[CameraOpenedEvent](bus, ch)
	defer unsub()

	event := CameraOpenedEvent{Serial: "08153"}
	bus.Publish(event)

	received := <-ch
	openEvent, ok := received.(CameraOpenedEvent)
	if !ok {
		t.Fatalf("Expected CameraOpenedEvent, got %T", received)
	}
	if openEvent.Serial != event.Serial {
		t.Errorf("Expected serial %s, got %s", event.Serial, openEvent.Serial)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[FrameReceivedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(FrameReceivedEvent{Serial: "08153", Index: 1})
		done <- true
	}()

	<-done // Should complete without blocking
}
