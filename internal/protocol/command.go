package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/wagiedev/workerbridge/internal/errors"
)

// ShutdownCommand asks the worker to leave its input loop and exit cleanly.
const ShutdownCommand = "__shutdown__"

// Query is a host command for the worker.
type Query struct {
	Query string `json:"query"`
}

// Control is a bridge-issued instruction that is not a query.
type Control struct {
	Cmd string `json:"cmd"`
}

// EncodeQuery encodes text as a single newline-terminated query line.
//
// Quotes, backslashes and control characters (including embedded newlines)
// are escaped, so the result never contains a raw newline before its end.
// Text that is not valid UTF-8 is rejected because it cannot be decoded
// back to the same bytes.
func EncodeQuery(text string) ([]byte, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", errors.ErrInvalidCommand)
	}

	return encodeLine(Query{Query: text})
}

// EncodeShutdown encodes the worker shutdown instruction.
func EncodeShutdown() ([]byte, error) {
	return encodeLine(Control{Cmd: ShutdownCommand})
}

// DecodeQuery parses a line produced by EncodeQuery.
func DecodeQuery(line []byte) (string, error) {
	var q Query

	if err := json.Unmarshal(line, &q); err != nil {
		return "", fmt.Errorf("decode query: %w", err)
	}

	return q.Query, nil
}

// encodeLine marshals v as compact JSON followed by exactly one newline.
func encodeLine(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	// Encoder.Encode terminates the value with a single '\n'.
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	return buf.Bytes(), nil
}
