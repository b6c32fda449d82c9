package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/openrec/tunerbridge/internal/config"
)

func (s *Server) registerOptionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-options",
		Method:      http.MethodGet,
		Path:        "/api/options",
		Summary:     "List options",
		Description: "List every registered option and its current value.",
		Tags:        []string{"options"},
	}, func(ctx context.Context, input *struct {
		Prefix string `query:"prefix" doc:"Filter to properties starting with this prefix"`
	}) (*OptionListResponse, error) {
		resp := &OptionListResponse{}
		for _, o := range s.options.Discoverer.Store().Options(input.Prefix) {
			resp.Body.Options = append(resp.Body.Options, OptionData{
				Property:    o.Property(),
				Name:        o.Name(),
				Description: o.Description(),
				Array:       o.IsArray(),
				Values:      o.Values(),
			})
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-options",
		Method:      http.MethodPut,
		Path:        "/api/options",
		Summary:     "Set options",
		Description: "Apply and persist option updates. Validation failures" +
			" leave the failing option unchanged.",
		Tags: []string{"options"},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Settings []SettingInput `json:"settings"`
		}
	}) (*OptionListResponse, error) {
		settings := make([]config.Setting, 0, len(input.Body.Settings))
		for _, in := range input.Body.Settings {
			settings = append(settings, config.Setting{
				Property: in.Property,
				Values:   in.Values,
			})
		}

		if err := s.options.Discoverer.SetOptions(settings...); err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}

		resp := &OptionListResponse{}
		for _, setting := range settings {
			if o := s.options.Discoverer.Store().Option(setting.Property); o != nil {
				resp.Body.Options = append(resp.Body.Options, OptionData{
					Property:    o.Property(),
					Name:        o.Name(),
					Description: o.Description(),
					Array:       o.IsArray(),
					Values:      o.Values(),
				})
			}
		}
		return resp, nil
	})
}
