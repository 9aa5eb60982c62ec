// Package subprocess spawns the worker process and speaks its line protocol.
//
// The Transport owns the worker's stdin and stdout. It performs the READY
// handshake, streams stdout lines to a single reader, serializes stdin writes,
// and stops the worker by escalating from a shutdown command to SIGTERM and
// finally SIGKILL.
package subprocess
