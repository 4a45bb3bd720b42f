// ABOUTME: Wire envelope types and error taxonomy for the toolgate protocol.
// ABOUTME: One JSON object per message; correlation id matches responses to requests.

package protocol

import (
	"encoding/json"
)

// Version is the protocol version tag carried in every envelope.
const Version = "1"

// Stable error codes. Codes shared with JSON-RPC keep the standard values so
// generic tooling classifies them correctly.
const (
	CodeMalformedRequest       = -32700
	CodeCapabilityNotFound     = -32601
	CodeInvalidArguments       = -32602
	CodeExecutionFailed        = -32603
	CodeExecutionTimeout       = -32000
	CodeInternalTransportError = -32001
	CodeRegistryFault          = -32002
)

// Request is the wire request envelope. The correlation id is caller-supplied
// and echoed back verbatim; params stay opaque until a provider's schema
// interprets them.
type Request struct {
	Version string          `json:"v"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  map[string]any  `json:"params,omitempty"`
}

// Response is the wire response envelope. Exactly one of Result or Error is
// set; never both, never neither.
type Response struct {
	Version string          `json:"v"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the wire error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface so wire errors compose with %w.
func (e *Error) Error() string {
	return e.Message
}

// NewResult builds a success response echoing the given correlation id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{
		Version: Version,
		ID:      id,
		Result:  result,
	}
}

// NewError builds an error response. A nil id serializes as JSON null,
// marking a request whose correlation id could not be recovered.
func NewError(id json.RawMessage, code int, message string, data any) *Response {
	if id == nil {
		id = json.RawMessage("null")
	}
	return &Response{
		Version: Version,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// MarshalJSON emits exactly one of result or error. A success whose payload
// is nil still carries an explicit "result": null so the variant is always
// distinguishable on the wire.
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			Version string          `json:"v"`
			ID      json.RawMessage `json:"id"`
			Error   *Error          `json:"error"`
		}{r.Version, r.ID, r.Error})
	}
	return json.Marshal(struct {
		Version string          `json:"v"`
		ID      json.RawMessage `json:"id"`
		Result  any             `json:"result"`
	}{r.Version, r.ID, r.Result})
}

// Encode serializes the response as a single JSON object.
func (r *Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequest parses a request envelope. It returns an error only when the
// bytes are not a JSON object at all; shape validation (version, method,
// correlation id) is the dispatcher's job so a parseable-but-invalid request
// can still echo its correlation id.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
