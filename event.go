package workerbridge

import (
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/wagiedev/workerbridge/internal/dispatch"
	"github.com/wagiedev/workerbridge/internal/event"
)

// Event is one classified message from the worker, or the terminal event.
type Event = event.Event

// Kind classifies how an event's source line was interpreted.
type Kind = event.Kind

// Handler receives events on the bridge's event loop. A slow handler delays
// every later event; a panicking one is recovered and logged.
type Handler = dispatch.Handler

// Event kinds.
const (
	KindRecord  = event.KindRecord
	KindDefault = event.KindDefault
	KindRaw     = event.KindRaw
	KindExited  = event.KindExited
)

// Reserved topics.
const (
	// TopicAll subscribes to every event.
	TopicAll = event.TopicAll

	// TopicRaw carries worker output lines that are not JSON objects.
	TopicRaw = event.TopicRaw

	// TopicExited carries the single terminal event.
	TopicExited = event.TopicExited
)

// SimpleSchema builds an object schema from a field-name to Go-type map,
// e.g. {"items": "[]string", "count": "int"}. All fields are required.
func SimpleSchema(props map[string]string) *jsonschema.Schema {
	return event.SimpleSchema(props)
}
