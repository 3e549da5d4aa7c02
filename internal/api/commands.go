package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-access/internal/dispatch"
	"github.com/nerrad567/gray-logic-access/internal/isapi"
)

// CommandResponse is the body of every command endpoint.
type CommandResponse struct {
	Success   bool            `json:"success"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	CommandID string          `json:"command_id,omitempty"`
	Status    dispatch.Status `json:"status"`

	// Data carries the device's JSON answer for queries.
	Data json.RawMessage `json:"data,omitempty"`
}

// statusFor maps a command status to its HTTP status.
func statusFor(st dispatch.Status) int {
	switch st {
	case dispatch.StatusSucceeded:
		return http.StatusOK
	case dispatch.StatusDeviceOffline:
		return http.StatusConflict
	case dispatch.StatusTimeout:
		return http.StatusGatewayTimeout
	case dispatch.StatusQueueFull, dispatch.StatusCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeResult(w http.ResponseWriter, res dispatch.Result) {
	resp := CommandResponse{
		Success:   res.Success,
		Code:      res.Code,
		Message:   res.Message,
		CommandID: res.CommandID,
		Status:    res.Status,
	}
	if res.Raw != "" && json.Valid([]byte(res.Raw)) {
		resp.Data = json.RawMessage(res.Raw)
	}
	writeJSON(w, statusFor(res.Status), resp)
}

// submit sends one command through the dispatcher and writes its result.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, kind isapi.Kind, payload json.RawMessage) {
	cmd := dispatch.Command{
		DeviceID: chi.URLParam(r, "id"),
		Kind:     kind,
		Payload:  payload,
	}

	fut, err := s.dispatcher.Submit(r.Context(), cmd)
	var res dispatch.Result
	switch {
	case errors.Is(err, dispatch.ErrInvalidCommand):
		writeJSON(w, http.StatusBadRequest, CommandResponse{Code: "INVALID_COMMAND", Message: err.Error()})
		return
	case errors.Is(err, dispatch.ErrQueueFull):
		res = dispatch.Result{Status: dispatch.StatusQueueFull, Code: dispatch.StatusQueueFull.Code(), Message: "command queue is full"}
	case errors.Is(err, dispatch.ErrClosed):
		res = dispatch.Result{Status: dispatch.StatusCancelled, Code: dispatch.StatusCancelled.Code(), Message: "dispatcher is shutting down"}
	case err != nil:
		s.logger.Error("submitting command", "device_id", cmd.DeviceID, "kind", kind, "error", err)
		writeInternalError(w, "failed to submit command")
		return
	default:
		res, err = fut.Wait(r.Context())
		if err != nil {
			// Caller went away; the future resolves as cancelled on its own.
			res = dispatch.Result{
				Status:    dispatch.StatusCancelled,
				Code:      dispatch.StatusCancelled.Code(),
				Message:   "request cancelled",
				CommandID: fut.CommandID(),
			}
		}
	}

	s.auditCommand(r, cmd, res)
	writeResult(w, res)
}

// readBody returns the request body as JSON, or nil if empty.
func readBody(r *http.Request) (json.RawMessage, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, errors.New("request body is not valid JSON")
	}
	return data, nil
}

func (s *Server) submitBody(kind isapi.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := readBody(r)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		s.submit(w, r, kind, payload)
	}
}

func (s *Server) handleOpenDoor(w http.ResponseWriter, r *http.Request) {
	s.submitBody(isapi.KindOpenDoor)(w, r)
}

func (s *Server) handleCloseDoor(w http.ResponseWriter, r *http.Request) {
	s.submitBody(isapi.KindCloseDoor)(w, r)
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, isapi.KindReboot, nil)
}

func (s *Server) handleSyncTime(w http.ResponseWriter, r *http.Request) {
	s.submitBody(isapi.KindSyncTime)(w, r)
}

func (s *Server) handleAddWhitelist(w http.ResponseWriter, r *http.Request) {
	s.submitBody(isapi.KindWhitelistAdd)(w, r)
}

// handleUpdateWhitelist takes the employee number from the path.
func (s *Server) handleUpdateWhitelist(w http.ResponseWriter, r *http.Request) {
	employeeNo := chi.URLParam(r, "employeeNo")

	var user isapi.WhitelistUser
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if user.EmployeeNo != "" && user.EmployeeNo != employeeNo {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "employee_no in body does not match path")
		return
	}
	user.EmployeeNo = employeeNo

	payload, err := json.Marshal(user)
	if err != nil {
		writeInternalError(w, "encoding payload")
		return
	}
	s.submit(w, r, isapi.KindWhitelistUpdate, payload)
}

func (s *Server) handleDeleteWhitelist(w http.ResponseWriter, r *http.Request) {
	payload, err := json.Marshal(isapi.WhitelistDeletePayload{
		EmployeeNos: []string{chi.URLParam(r, "employeeNo")},
	})
	if err != nil {
		writeInternalError(w, "encoding payload")
		return
	}
	s.submit(w, r, isapi.KindWhitelistDelete, payload)
}

// handleQueryWhitelist reads position, max_results and repeated
// employee_no query parameters.
func (s *Server) handleQueryWhitelist(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := isapi.WhitelistQueryPayload{EmployeeNos: q["employee_no"]}

	for name, dst := range map[string]*int{"position": &query.Position, "max_results": &query.MaxResults} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	payload, err := json.Marshal(query)
	if err != nil {
		writeInternalError(w, "encoding payload")
		return
	}
	s.submit(w, r, isapi.KindWhitelistQuery, payload)
}
