package event

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/wagiedev/workerbridge/internal/errors"
)

var errNotObject = stderrors.New("value is not a JSON object")

// Parse classifies one output line.
//
// A JSON object with a non-empty string "type" becomes a KindRecord routed to
// that topic, unless the topic is reserved for the bridge. Any other JSON
// object, including one naming a reserved topic, becomes a KindDefault event. Anything that
// is not a JSON object becomes a KindRaw event and the returned ParseWarning
// describes why; the line is never dropped.
func Parse(seq uint64, line []byte) (Event, *errors.ParseWarning) {
	ev := Event{
		Seq:        seq,
		Raw:        string(line),
		ReceivedAt: time.Now(),
	}

	var payload map[string]any

	err := json.Unmarshal(line, &payload)
	if err == nil && payload == nil {
		// "null" decodes into a nil map without error.
		err = errNotObject
	}

	if err != nil {
		if _, isType := stderrors.AsType[*json.UnmarshalTypeError](err); isType {
			err = fmt.Errorf("%w: %w", errNotObject, err)
		}

		warning := &errors.ParseWarning{Raw: ev.Raw, Err: err}

		ev.Kind = KindRaw
		ev.Topic = TopicRaw
		ev.Warning = warning

		return ev, warning
	}

	ev.Payload = payload

	if topic, ok := payload[DiscriminantField].(string); ok && topic != "" && !IsReserved(topic) {
		ev.Kind = KindRecord
		ev.Topic = topic

		return ev, nil
	}

	ev.Kind = KindDefault

	return ev, nil
}
