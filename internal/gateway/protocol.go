package gateway

import (
	"encoding/json"

	"github.com/lhdbsbz/adarelay/internal/widget"
)

// Frame is the suggestion socket's message format.
// Three types: "req" (client→server), "res" (server→client), "event" (server→client push).
type Frame struct {
	Type    string          `json:"type"`              // "req" | "res" | "event"
	ID      string          `json:"id,omitempty"`      // request/response correlation ID
	Method  string          `json:"method,omitempty"`  // for req: method name
	Params  json.RawMessage `json:"params,omitempty"`  // for req: method parameters
	OK      *bool           `json:"ok,omitempty"`      // for res: success flag
	Payload json.RawMessage `json:"payload,omitempty"` // for res and event: data
	Error   *ErrorPayload   `json:"error,omitempty"`   // for res: error details
	Event   string          `json:"event,omitempty"`   // for event: event name
	Seq     int             `json:"seq,omitempty"`     // for event: sequence number
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	MethodGenerate = "suggestion.generate"
	EventState     = "suggestion.state"
)

// Error codes carried by a failed suggestion response.
const (
	CodeTimeout       = "TIMEOUT"
	CodeSetupRequired = codeSetupRequired
	CodeError         = "ERROR"
	CodeInvalidParams = "INVALID_PARAMS"
)

// GenerateParams starts a suggestion. TicketID and HashedID default to the
// socket's query parameters. Either Conversation or Text carries the ticket.
type GenerateParams struct {
	TicketID     string          `json:"ticketId,omitempty"`
	HashedID     string          `json:"hashedId,omitempty"`
	Conversation widget.Snapshot `json:"conversation,omitempty"`
	Text         string          `json:"text,omitempty"`
}

type StatePayload struct {
	State   widget.State `json:"state"`
	Attempt int          `json:"attempt,omitempty"`
}

type SuggestionPayload struct {
	Text string `json:"text"`
}

func ResOK(id string, payload any) Frame {
	data, _ := json.Marshal(payload)
	ok := true
	return Frame{Type: "res", ID: id, OK: &ok, Payload: data}
}

func ResErr(id string, code, message string) Frame {
	ok := false
	return Frame{Type: "res", ID: id, OK: &ok, Error: &ErrorPayload{Code: code, Message: message}}
}

func EventFrame(event string, seq int, payload any) Frame {
	data, _ := json.Marshal(payload)
	return Frame{Type: "event", Event: event, Seq: seq, Payload: data}
}
