// Package event classifies worker output lines into typed events.
//
// Each line the worker prints after READY becomes exactly one Event:
//   - a JSON object with a string "type" is a record routed to that topic
//   - any other JSON object is a default event seen only by catch-all subscribers
//   - anything else is a raw event carrying the original text
//
// When the output stream ends, the bridge emits one final KindExited event.
package event
