package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/tenant"
)

type tenantMappingRequest struct {
	TenantID string `json:"tenant_id"`
}

func (s *Server) handleListTenants(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mappings": s.tenants.Mappings(),
		"usage":    s.tenants.Stats(),
	})
}

func (s *Server) handleSetTenantMapping(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var req tenantMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.tenants.SetMapping(r.Context(), deviceID, req.TenantID)
	if errors.Is(err, tenant.ErrInvalidMapping) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("saving tenant mapping", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to save mapping")
		return
	}

	s.recordAudit(r, audit.Entry{Action: audit.ActionMappingSet, DeviceID: deviceID, TenantID: req.TenantID})
	writeJSON(w, http.StatusOK, map[string]string{
		"device_id": deviceID,
		"tenant_id": req.TenantID,
	})
}

func (s *Server) handleRemoveTenantMapping(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	err := s.tenants.RemoveMapping(r.Context(), deviceID)
	if errors.Is(err, tenant.ErrMappingNotFound) {
		writeNotFound(w, "no mapping for device")
		return
	}
	if err != nil {
		s.logger.Error("removing tenant mapping", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to remove mapping")
		return
	}
	s.recordAudit(r, audit.Entry{Action: audit.ActionMappingRemove, DeviceID: deviceID})
	w.WriteHeader(http.StatusNoContent)
}
