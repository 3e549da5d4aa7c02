package driver

import "time"

// requestMessage is what the gateway receives.
type requestMessage struct {
	RequestID string    `json:"request_id"`
	DeviceID  string    `json:"device_id"`
	Handle    int       `json:"handle"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Body      string    `json:"body,omitempty"`
	Deadline  time.Time `json:"deadline,omitempty"`
}

// responseMessage is what the gateway answers.
type responseMessage struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Body      string `json:"body,omitempty"`
	ErrCode   int    `json:"err_code"`
}
