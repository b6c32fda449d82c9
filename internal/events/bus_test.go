package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan DeviceDiscoveredEvent, 1)

	unsub := bus.Subscribe(func(e DeviceDiscoveredEvent) {
		received <- e
	})
	defer unsub()

	bus.Publish(DeviceDiscoveredEvent{
		DeviceID: "10101010",
		Model:    "HDHR3-US",
		Address:  "192.168.1.50",
		Tuners:   2,
	})

	select {
	case got := <-received:
		if got.DeviceID != "10101010" || got.Tuners != 2 {
			t.Errorf("received %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscriberTypeIsolation(t *testing.T) {
	bus := New()
	discovered := make(chan DeviceDiscoveredEvent, 1)
	stopped := make(chan RecordingStoppedEvent, 1)

	defer bus.Subscribe(func(e DeviceDiscoveredEvent) { discovered <- e })()
	defer bus.Subscribe(func(e RecordingStoppedEvent) { stopped <- e })()

	bus.Publish(RecordingStoppedEvent{TunerName: "t0", BytesStreamed: 42})

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("recording event not delivered")
	}

	select {
	case e := <-discovered:
		t.Errorf("device subscriber received %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	received := make(chan SwitchCompletedEvent, 1)

	unsub := bus.Subscribe(func(e SwitchCompletedEvent) { received <- e })
	unsub()

	bus.Publish(SwitchCompletedEvent{TunerName: "t1"})

	select {
	case e := <-received:
		t.Errorf("received %+v after unsubscribe", e)
	case <-time.After(50 * time.Millisecond):
	}
}
