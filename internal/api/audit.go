package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/dispatch"
)

const auditWriteTimeout = 2 * time.Second

// recordAudit stores e if an audit log is configured. Failures are logged
// only; the request outcome is already decided.
func (s *Server) recordAudit(r *http.Request, e audit.Entry) {
	if s.audit == nil {
		return
	}
	e.Subject = subject(r)
	e.Source = audit.SourceAPI

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditWriteTimeout)
	defer cancel()
	if err := s.audit.Create(ctx, &e); err != nil {
		s.logger.Warn("writing audit entry", "action", e.Action, "device_id", e.DeviceID, "error", err)
	}
}

func (s *Server) auditCommand(r *http.Request, cmd dispatch.Command, res dispatch.Result) {
	s.recordAudit(r, audit.Entry{
		Action:    audit.ActionCommand,
		DeviceID:  cmd.DeviceID,
		TenantID:  s.tenants.Resolve(cmd.DeviceID),
		CommandID: res.CommandID,
		Status:    string(res.Status),
		Details: map[string]any{
			"kind": string(cmd.Kind),
			"code": res.Code,
		},
	})
}

// handleListAudit pages through the audit trail.
// Query: action, device_id, tenant_id, subject, since (RFC 3339), limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: q.Get("device_id"),
		TenantID: q.Get("tenant_id"),
		Subject:  q.Get("subject"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	page, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
