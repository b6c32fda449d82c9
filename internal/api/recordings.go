package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerRecordingRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-recordings",
		Method:      http.MethodGet,
		Path:        "/api/recordings",
		Summary:     "List recordings",
		Description: "List active capture sessions and their delivery counters.",
		Tags:        []string{"recordings"},
	}, func(ctx context.Context, input *struct{}) (*RecordingListResponse, error) {
		resp := &RecordingListResponse{}
		for _, session := range s.options.Discoverer.Sessions() {
			resp.Body.Recordings = append(resp.Body.Recordings, RecordingData{
				TunerName:     session.Name(),
				Channel:       session.Channel(),
				Running:       session.IsRunning(),
				BytesStreamed: session.BytesStreamed(),
			})
		}
		return resp, nil
	})
}
