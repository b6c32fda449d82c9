package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/openrec/tunerbridge/internal/hdhr"
)

func deviceData(d *hdhr.Device) DeviceData {
	return DeviceData{
		DeviceID:   d.HexID(),
		Model:      d.Model,
		Address:    d.IP.String(),
		BaseURL:    d.BaseURL,
		TunerCount: d.TunerCount,
		Legacy:     d.Legacy,
		Features:   d.Features,
	}
}

func (s *Server) registerDeviceRoutes() {
	reg := s.options.Discoverer.Registry()

	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List devices",
		Description: "List all discovered physical tuner units.",
		Tags:        []string{"devices"},
	}, func(ctx context.Context, input *struct{}) (*DeviceListResponse, error) {
		resp := &DeviceListResponse{}
		for _, d := range reg.Devices() {
			resp.Body.Devices = append(resp.Body.Devices, deviceData(d))
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-device",
		Method:      http.MethodGet,
		Path:        "/api/devices/{id}",
		Summary:     "Get device",
		Description: "Fetch one physical tuner unit by hex device ID.",
		Tags:        []string{"devices"},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id" example:"10101010" doc:"Hex device ID"`
	}) (*DeviceResponse, error) {
		id, err := strconv.ParseUint(input.ID, 16, 32)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid hex device ID")
		}

		device := s.options.Discoverer.Device(uint32(id))
		if device == nil {
			return nil, huma.Error404NotFound("device not discovered")
		}
		return &DeviceResponse{Body: deviceData(device)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-tuners",
		Method:      http.MethodGet,
		Path:        "/api/tuners",
		Summary:     "List tuners",
		Description: "List all capture tuners presented to the recorder.",
		Tags:        []string{"devices"},
	}, func(ctx context.Context, input *struct{}) (*TunerListResponse, error) {
		resp := &TunerListResponse{}
		for _, t := range reg.Tuners() {
			resp.Body.Tuners = append(resp.Body.Tuners, TunerData{
				ID:          t.ID,
				ParentID:    t.ParentID,
				Index:       t.Index,
				Name:        t.Name,
				Description: t.Description,
				Busy:        reg.TunerBusy(t.ID),
			})
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-parents",
		Method:      http.MethodGet,
		Path:        "/api/parents",
		Summary:     "List parents",
		Description: "List parent records and their child tuner IDs.",
		Tags:        []string{"devices"},
	}, func(ctx context.Context, input *struct{}) (*ParentListResponse, error) {
		resp := &ParentListResponse{}
		for _, p := range reg.Parents() {
			data := ParentData{
				ID:       p.ID,
				Name:     p.Name,
				DeviceID: fmt.Sprintf("%08X", p.DeviceID),
				TunerIDs: p.TunerIDs,
			}
			if p.LocalAddress != nil {
				data.LocalAddress = p.LocalAddress.String()
			}
			resp.Body.Parents = append(resp.Body.Parents, data)
		}
		return resp, nil
	})
}
