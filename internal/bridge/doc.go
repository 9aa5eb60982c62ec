// Package bridge implements the worker session behind the public Bridge.
//
// A Bridge owns one transport and one dispatcher. Start spawns the worker and
// waits for its handshake, then a single event-loop goroutine reads output
// lines, classifies them into events and delivers them to subscribers in the
// order the worker wrote them. Commands are written independently of the
// loop; the bridge never waits for a reply.
package bridge
