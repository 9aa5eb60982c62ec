// Package protocol implements the bridge-to-worker side of the line protocol.
//
// Every command the bridge sends is one JSON object on one line:
//
//	{"query":"What is 2+2?"}
//
// The bridge also sends a control line when it shuts the worker down:
//
//	{"cmd":"__shutdown__"}
//
// Lines are built with a real JSON encoder so quotes, backslashes and
// newlines inside command text never break the framing.
package protocol
