package isapi

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"time"
)

// Request is one HTTP-style call executed on the controller by the driver.
type Request struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	Body   string `json:"body,omitempty"`
}

// Response is the driver's answer. ErrCode is the vendor SDK error code,
// -1 when the driver itself failed (timeout, transport).
type Response struct {
	OK      bool   `json:"ok"`
	Body    string `json:"body,omitempty"`
	ErrCode int    `json:"err_code"`
}

// DoorPayload selects a door on multi-door controllers. DoorNo defaults to 1.
type DoorPayload struct {
	DoorNo int `json:"door_no"`
}

// TimePayload sets the controller clock. A zero Time means "now".
type TimePayload struct {
	Time     time.Time `json:"time"`
	TimeZone string    `json:"time_zone"`
}

// WhitelistUser is one entry on the controller's user list.
type WhitelistUser struct {
	EmployeeNo string    `json:"employee_no"`
	Name       string    `json:"name"`
	UserType   string    `json:"user_type,omitempty"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidTo    time.Time `json:"valid_to"`
	Doors      []int     `json:"doors,omitempty"`
}

// WhitelistDeletePayload names the users to remove.
type WhitelistDeletePayload struct {
	EmployeeNos []string `json:"employee_nos"`
}

// WhitelistQueryPayload pages through the user list, optionally filtered.
type WhitelistQueryPayload struct {
	EmployeeNos []string `json:"employee_nos,omitempty"`
	Position    int      `json:"position"`
	MaxResults  int      `json:"max_results"`
}

const (
	defaultTimeZone      = "CST+0:00:00"
	defaultMaxResults    = 30
	isapiTimeLayout      = "2006-01-02T15:04:05"
	userInfoRecordURL    = "/ISAPI/AccessControl/UserInfo/Record?format=json"
	userInfoModifyURL    = "/ISAPI/AccessControl/UserInfo/Modify?format=json"
	userInfoDeleteURL    = "/ISAPI/AccessControl/UserInfo/Delete?format=json"
	userInfoSearchURL    = "/ISAPI/AccessControl/UserInfo/Search?format=json"
	remoteControlDoorURL = "/ISAPI/AccessControl/RemoteControl/door/%d"
)

// Build translates a command into the ISAPI request for it.
//
// Parameters:
//   - kind: Command kind
//   - payload: Kind-specific JSON (see the *Payload types); may be empty
//     for kinds without parameters
//
// Returns:
//   - Request: URL, method and body for the driver
//   - error: ErrUnknownKind or wrapped ErrInvalidPayload
func Build(kind Kind, payload json.RawMessage) (Request, error) {
	switch kind {
	case KindOpenDoor:
		return doorRequest(payload, "open")
	case KindCloseDoor:
		return doorRequest(payload, "close")
	case KindReboot:
		return Request{URL: "/ISAPI/System/reboot", Method: "PUT"}, nil
	case KindSyncTime:
		return timeRequest(payload)
	case KindWhitelistAdd:
		return userRequest(payload, "POST", userInfoRecordURL)
	case KindWhitelistUpdate:
		return userRequest(payload, "PUT", userInfoModifyURL)
	case KindWhitelistDelete:
		return deleteRequest(payload)
	case KindWhitelistQuery:
		return queryRequest(payload)
	default:
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

type remoteControlDoor struct {
	XMLName xml.Name `xml:"RemoteControlDoor"`
	Cmd     string   `xml:"cmd"`
}

func doorRequest(payload json.RawMessage, cmd string) (Request, error) {
	var p DoorPayload
	if err := decode(payload, &p); err != nil {
		return Request{}, err
	}
	if p.DoorNo == 0 {
		p.DoorNo = 1
	}
	if p.DoorNo < 0 {
		return Request{}, fmt.Errorf("%w: door_no must be positive", ErrInvalidPayload)
	}

	body, err := xml.Marshal(remoteControlDoor{Cmd: cmd})
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return Request{URL: fmt.Sprintf(remoteControlDoorURL, p.DoorNo), Method: "PUT", Body: string(body)}, nil
}

type timeBody struct {
	XMLName   xml.Name `xml:"Time"`
	TimeMode  string   `xml:"timeMode"`
	LocalTime string   `xml:"localTime"`
	TimeZone  string   `xml:"timeZone"`
}

func timeRequest(payload json.RawMessage) (Request, error) {
	var p TimePayload
	if err := decode(payload, &p); err != nil {
		return Request{}, err
	}
	if p.Time.IsZero() {
		p.Time = time.Now()
	}
	if p.TimeZone == "" {
		p.TimeZone = defaultTimeZone
	}

	body, err := xml.Marshal(timeBody{
		TimeMode:  "manual",
		LocalTime: p.Time.Format(isapiTimeLayout),
		TimeZone:  p.TimeZone,
	})
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return Request{URL: "/ISAPI/System/time", Method: "PUT", Body: string(body)}, nil
}

type userInfoEnvelope struct {
	UserInfo userInfo `json:"UserInfo"`
}

type userInfo struct {
	EmployeeNo string      `json:"employeeNo"`
	Name       string      `json:"name"`
	UserType   string      `json:"userType"`
	Valid      userValid   `json:"Valid"`
	DoorRight  string      `json:"doorRight"`
	RightPlan  []rightPlan `json:"RightPlan"`
}

type userValid struct {
	Enable    bool   `json:"enable"`
	BeginTime string `json:"beginTime"`
	EndTime   string `json:"endTime"`
}

type rightPlan struct {
	DoorNo         int    `json:"doorNo"`
	PlanTemplateNo string `json:"planTemplateNo"`
}

func userRequest(payload json.RawMessage, method, url string) (Request, error) {
	var u WhitelistUser
	if err := decode(payload, &u); err != nil {
		return Request{}, err
	}
	if u.EmployeeNo == "" {
		return Request{}, fmt.Errorf("%w: employee_no is required", ErrInvalidPayload)
	}
	if !u.ValidTo.IsZero() && u.ValidTo.Before(u.ValidFrom) {
		return Request{}, fmt.Errorf("%w: valid_to precedes valid_from", ErrInvalidPayload)
	}

	info := userInfo{
		EmployeeNo: u.EmployeeNo,
		Name:       u.Name,
		UserType:   u.UserType,
		Valid: userValid{
			Enable:    !u.ValidFrom.IsZero() || !u.ValidTo.IsZero(),
			BeginTime: formatOptional(u.ValidFrom),
			EndTime:   formatOptional(u.ValidTo),
		},
	}
	if info.UserType == "" {
		info.UserType = "normal"
	}
	doors := u.Doors
	if len(doors) == 0 {
		doors = []int{1}
	}
	rights := make([]byte, 0, len(doors)*2)
	for i, d := range doors {
		if i > 0 {
			rights = append(rights, ',')
		}
		rights = fmt.Appendf(rights, "%d", d)
		info.RightPlan = append(info.RightPlan, rightPlan{DoorNo: d, PlanTemplateNo: "1"})
	}
	info.DoorRight = string(rights)

	return jsonRequest(method, url, userInfoEnvelope{UserInfo: info})
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(isapiTimeLayout)
}

type employeeNo struct {
	EmployeeNo string `json:"employeeNo"`
}

func employeeList(nos []string) []employeeNo {
	out := make([]employeeNo, 0, len(nos))
	for _, no := range nos {
		out = append(out, employeeNo{EmployeeNo: no})
	}
	return out
}

func deleteRequest(payload json.RawMessage) (Request, error) {
	var p WhitelistDeletePayload
	if err := decode(payload, &p); err != nil {
		return Request{}, err
	}
	if len(p.EmployeeNos) == 0 {
		return Request{}, fmt.Errorf("%w: employee_nos is required", ErrInvalidPayload)
	}

	body := map[string]any{
		"UserInfoDelCond": map[string]any{
			"EmployeeNoList": employeeList(p.EmployeeNos),
		},
	}
	return jsonRequest("PUT", userInfoDeleteURL, body)
}

func queryRequest(payload json.RawMessage) (Request, error) {
	var p WhitelistQueryPayload
	if err := decode(payload, &p); err != nil {
		return Request{}, err
	}
	if p.MaxResults <= 0 {
		p.MaxResults = defaultMaxResults
	}

	cond := map[string]any{
		"searchID":             "accessd",
		"searchResultPosition": p.Position,
		"maxResults":           p.MaxResults,
	}
	if len(p.EmployeeNos) > 0 {
		cond["EmployeeNoList"] = employeeList(p.EmployeeNos)
	}
	return jsonRequest("POST", userInfoSearchURL, map[string]any{"UserInfoSearchCond": cond})
}

func jsonRequest(method, url string, body any) (Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return Request{URL: url, Method: method, Body: string(data)}, nil
}
