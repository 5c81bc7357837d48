package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/invopop/jsonschema"
)

// Event types sent by the backend.
const (
	TypePilotCreated = "pilot_created"
	TypeTeamCreated  = "team_created"
	TypeTeamUpdated  = "team_updated"
	TypeHeartbeat    = "heartbeat"
	// TypeLog is reported by Kind for untyped entries that carry a message.
	TypeLog = "log"
)

// ErrNotObject is returned by Decode for payloads that are valid JSON but not
// an object.
var ErrNotObject = errors.New("realtime: event payload is not a JSON object")

// Event is one decoded server-sent event.
type Event struct {
	Type      string `json:"type,omitempty" jsonschema:"description=Event type such as pilot_created or heartbeat; absent for log entries"`
	Message   string `json:"message,omitempty" jsonschema:"description=Human readable text of a log entry"`
	Timestamp string `json:"timestamp,omitempty" jsonschema:"description=When the backend produced the event"`
	PilotID   string `json:"pilot_id,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	Name      string `json:"name,omitempty" jsonschema:"description=Name of the pilot or team the event is about"`

	// ID is the SSE id of the frame, empty when the server sent none.
	ID string `json:"-"`
	// Channel is the SSE event field; "message" when the server sent none.
	Channel string `json:"-"`
	// Raw is the undecoded data payload.
	Raw json.RawMessage `json:"-"`
}

// Kind returns Type, or TypeLog for an untyped entry with a message, or "".
func (e Event) Kind() string {
	if e.Type != "" {
		return e.Type
	}
	if e.Message != "" {
		return TypeLog
	}
	return ""
}

// Decode parses one data payload. Scalar fields may arrive as JSON strings or
// numbers; anything else in them is ignored.
func Decode(data []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Event{}, fmt.Errorf("realtime: decode event: %w", err)
	}
	if fields == nil {
		return Event{}, ErrNotObject
	}
	ev := Event{
		Type:      scalar(fields["type"]),
		Message:   scalar(fields["message"]),
		Timestamp: scalar(fields["timestamp"]),
		PilotID:   scalar(fields["pilot_id"]),
		TeamID:    scalar(fields["team_id"]),
		Name:      scalar(fields["name"]),
		Raw:       append(json.RawMessage(nil), data...),
	}
	return ev, nil
}

func scalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

// Schema returns the JSON Schema of an event payload.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(new(Event))
	s.Title = "TC2000 Fantasy event"
	return s
}
