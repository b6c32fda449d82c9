package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/openrec/tunerbridge/internal/logging"
)

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent logs",
		Description: "Return the in-memory ring of recent log entries.",
		Tags:        []string{"system"},
	}, func(ctx context.Context, input *struct{}) (*LogListResponse, error) {
		resp := &LogListResponse{}

		history := logging.GetHistory()
		if history == nil {
			return resp, nil
		}
		for _, e := range history.All() {
			resp.Body.Entries = append(resp.Body.Entries, LogEntryData{
				Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
				Level:      e.Level,
				Module:     e.Module,
				Message:    e.Message,
				Attributes: e.Attributes,
			})
		}
		return resp, nil
	})
}
