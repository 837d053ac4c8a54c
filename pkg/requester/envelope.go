// Package requester wraps an HTTP client for JSON REST backends that answer
// with a status envelope. Transport failures never surface as raw errors:
// they become synthetic GENERIC_RESPONSE envelopes so callers only ever
// branch on the classified outcome.
package requester

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// Status is the value of the envelope status field.
type Status string

const (
	// StatusSuccessful marks a request the server fulfilled
	StatusSuccessful Status = "SUCCESSFUL"
	// StatusGenericResponse marks a generic or connection-class error
	StatusGenericResponse Status = "GENERIC_RESPONSE"
	// StatusNotFound marks a missing resource
	StatusNotFound Status = "NOT_FOUND"
	// StatusFailed marks a request the server rejected
	StatusFailed Status = "FAILED"
)

// DefaultGenericMessage is shown to users when the server cannot be reached.
const DefaultGenericMessage = "Unable to reach the server, check your connection and try again"

// payloadKeys are tried in order when locating the envelope payload.
var payloadKeys = []string{"response", "data", "content"}

// ErrNoPayload is returned by Bind when the envelope carries no payload.
var ErrNoPayload = errors.New("envelope has no payload")

// Envelope is a decoded server response.
type Envelope struct {
	Status   Status          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
	Message  string          `json:"message,omitempty"`
	// Code is the HTTP status code, zero for synthetic envelopes.
	Code int `json:"code,omitempty"`
}

// Decode builds an envelope from a raw response body. It never fails:
// malformed input yields an envelope with an empty status, which
// classifies as a failure.
func Decode(raw []byte) *Envelope {
	env := &Envelope{}
	if !gjson.ValidBytes(raw) {
		return env
	}

	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return env
	}

	if status := doc.Get("status"); status.Type == gjson.String {
		env.Status = Status(status.String())
	}
	for _, key := range payloadKeys {
		if v := doc.Get(key); v.Exists() {
			env.Response = json.RawMessage(v.Raw)
			break
		}
	}
	if msg := doc.Get("message"); msg.Type == gjson.String {
		env.Message = msg.String()
	}

	return env
}

// GenericResponse builds the synthetic envelope used for transport failures.
func GenericResponse(message string) *Envelope {
	if message == "" {
		message = DefaultGenericMessage
	}
	return &Envelope{
		Status:  StatusGenericResponse,
		Message: message,
	}
}

// Successful returns true if the server reported success.
func (e *Envelope) Successful() bool {
	return e != nil && e.Status == StatusSuccessful
}

// Bind unmarshals the payload into v.
func (e *Envelope) Bind(v interface{}) error {
	if e == nil || len(e.Response) == 0 {
		return ErrNoPayload
	}
	return json.Unmarshal(e.Response, v)
}

// Field returns a value from the payload addressed by a gjson path.
func (e *Envelope) Field(path string) gjson.Result {
	if e == nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(e.Response, path)
}
