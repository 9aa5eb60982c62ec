package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reserved topics. Worker records are routed by their own "type" value;
// these names are used for events the bridge itself produces.
const (
	// TopicAll receives every event regardless of topic.
	TopicAll = "*"

	// TopicRaw receives output lines that are not JSON objects.
	TopicRaw = "bridge.raw"

	// TopicExited receives the single terminal event of a bridge.
	TopicExited = "bridge.exited"
)

// IsReserved reports whether topic belongs to the bridge. A worker record
// naming a reserved topic is not routed to it.
func IsReserved(topic string) bool {
	switch topic {
	case TopicAll, TopicRaw, TopicExited:
		return true
	default:
		return false
	}
}

// DiscriminantField is the record field that names an event's topic.
const DiscriminantField = "type"

// Kind classifies an event by how its source line was interpreted.
type Kind int

const (
	// KindRecord is a JSON object carrying a string discriminant.
	KindRecord Kind = iota + 1
	// KindDefault is a JSON object without a usable discriminant.
	KindDefault
	// KindRaw is a line that could not be decoded as a JSON object.
	KindRaw
	// KindExited marks the end of the worker's output stream.
	KindExited
)

func (k Kind) String() string {
	switch k {
	case KindRecord:
		return "record"
	case KindDefault:
		return "default"
	case KindRaw:
		return "raw"
	case KindExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Event is one classified message from the worker.
type Event struct {
	// Seq is the 1-based position of the event in the bridge's output order.
	Seq uint64

	Kind Kind

	// Topic is the discriminant value for records, TopicRaw for raw lines,
	// TopicExited for the terminal event, and empty for default events.
	Topic string

	// Payload is the decoded record for KindRecord and KindDefault.
	Payload map[string]any

	// Raw is the source line exactly as read, without its newline.
	Raw string

	ReceivedAt time.Time

	// Warning is set on raw events and explains why decoding failed.
	Warning error

	// Err is set on the terminal event when the stream failed with
	// something other than a clean end-of-stream.
	Err error

	// ExitCode is the worker's exit code on the terminal event, -1 if unknown.
	ExitCode int

	// SchemaErr is set when the payload does not match the topic's schema.
	SchemaErr error
}

// Exited builds the terminal event.
func Exited(seq uint64, err error, exitCode int) Event {
	return Event{
		Seq:        seq,
		Kind:       KindExited,
		Topic:      TopicExited,
		ReceivedAt: time.Now(),
		Err:        err,
		ExitCode:   exitCode,
	}
}

// Terminal reports whether this is the last event of the stream.
func (e *Event) Terminal() bool {
	return e.Kind == KindExited
}

// StringField returns the string value of a payload field, or "" if absent.
func (e *Event) StringField(key string) string {
	s, _ := e.Payload[key].(string)

	return s
}

// OK reports the worker's "ok" flag. The second result is false when the
// record carries no boolean "ok" field.
func (e *Event) OK() (bool, bool) {
	ok, present := e.Payload["ok"].(bool)

	return ok, present
}

// ErrorMessage returns the worker-reported "error" field, if it is a string.
func (e *Event) ErrorMessage() string {
	return e.StringField("error")
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if e.Payload == nil {
		return fmt.Errorf("decode %s event: no payload", e.Kind)
	}

	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	return nil
}
