package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/openrec/tunerbridge/internal/events"
)

func (s *Server) registerEventRoutes() {
	if s.options.EventBus == nil {
		return
	}

	sse.Register(s.api, huma.Operation{
		OperationID: "stream-events",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Event stream",
		Description: "Server-sent events for device discovery and recording lifecycle.",
		Tags:        []string{"events"},
	}, map[string]any{
		"device_discovered":      events.DeviceDiscoveredEvent{},
		"device_address_changed": events.DeviceAddressChangedEvent{},
		"recording_started":      events.RecordingStartedEvent{},
		"recording_stopped":      events.RecordingStoppedEvent{},
		"switch_completed":       events.SwitchCompletedEvent{},
	}, func(ctx context.Context, input *struct{}, send sse.Sender) {
		feed := make(chan events.Event, 64)
		push := func(e events.Event) {
			select {
			case feed <- e:
			default: // slow client, drop rather than block publishers
			}
		}

		unsubs := []func(){
			s.options.EventBus.Subscribe(func(e events.DeviceDiscoveredEvent) { push(e) }),
			s.options.EventBus.Subscribe(func(e events.DeviceAddressChangedEvent) { push(e) }),
			s.options.EventBus.Subscribe(func(e events.RecordingStartedEvent) { push(e) }),
			s.options.EventBus.Subscribe(func(e events.RecordingStoppedEvent) { push(e) }),
			s.options.EventBus.Subscribe(func(e events.SwitchCompletedEvent) { push(e) }),
		}
		defer func() {
			for _, unsub := range unsubs {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case e := <-feed:
				if err := send.Data(e); err != nil {
					return
				}
			}
		}
	})
}
