package protocol

import (
	"encoding/json"
	"fmt"
)

// ResponseStatus is the outcome of a command.
type ResponseStatus string

// Response statuses.
const (
	StatusOK    ResponseStatus = "ok"
	StatusError ResponseStatus = "error"
)

// CommandResponse is the reply written back for every command.
type CommandResponse struct {
	Status ResponseStatus  `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// InternalErrorResponse is returned for any unexpected failure. It never
// carries details of the underlying fault.
var InternalErrorResponse = CommandResponse{
	Status: StatusError,
	Data:   json.RawMessage(`{"error":"internal_error","error_description":"Internal error."}`),
}

// OKResponse wraps a payload into a successful response.
func OKResponse(payload any) (CommandResponse, error) {
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return CommandResponse{}, fmt.Errorf("failed to encode response payload: %w", err)
	}
	return CommandResponse{Status: StatusOK, Data: raw}, nil
}

// ErrorResponse turns a typed error into an error response.
func ErrorResponse(e *Error) CommandResponse {
	raw, err := json.Marshal(e)
	if err != nil {
		return InternalErrorResponse
	}
	return CommandResponse{Status: StatusError, Data: raw}
}

// IsOK reports whether the response is successful.
func (r CommandResponse) IsOK() bool {
	return r.Status == StatusOK
}

// DecodeData unmarshals the response data into v.
func (r CommandResponse) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Err returns the typed error carried by an error response, or nil for OK.
func (r CommandResponse) Err() *Error {
	if r.Status != StatusError {
		return nil
	}
	var e Error
	if err := json.Unmarshal(r.Data, &e); err != nil || e.Code == "" {
		return NewError(CodeInternalError, "")
	}
	return &e
}

// JSON encodes the response as the frame payload.
func (r CommandResponse) JSON() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ParseResponse decodes a frame payload into a CommandResponse. It is the
// client side of CommandResponse.JSON, for programs that talk to the daemon.
func ParseResponse(payload string) (CommandResponse, error) {
	var r CommandResponse
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return CommandResponse{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return r, nil
}
