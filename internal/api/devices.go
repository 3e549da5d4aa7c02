package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-access/internal/device"
)

// deviceView is a registry record with its resolved tenant.
type deviceView struct {
	device.Record
	TenantID string `json:"tenant_id"`
}

func (s *Server) view(rec device.Record) deviceView {
	return deviceView{Record: rec, TenantID: s.tenants.Resolve(rec.DeviceID)}
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	records := s.registry.List()
	out := make([]deviceView, 0, len(records))
	for _, rec := range records {
		out = append(out, s.view(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.Get(chi.URLParam(r, "id"))
	if errors.Is(err, device.ErrDeviceNotFound) {
		writeNotFound(w, "device not connected")
		return
	}
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.view(*rec))
}
