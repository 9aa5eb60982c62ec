// Package workerbridge supervises a long-lived worker process and exchanges
// line-delimited JSON with it over stdin and stdout.
//
// The worker is any executable that prints READY once it is initialized,
// then reads one JSON command per line and prints one JSON record (or plain
// text) per line. The bridge spawns it, waits for the handshake, writes
// commands without waiting for replies, and turns every output line into an
// Event routed to subscribers by the record's "type" field.
//
// # Basic Usage
//
//	b := workerbridge.NewBridge()
//	defer b.Close()
//
//	b.Subscribe("capabilities", func(ev workerbridge.Event) {
//	    var caps struct {
//	        Items []string `json:"items"`
//	    }
//	    _ = ev.Decode(&caps)
//	    fmt.Println("worker offers", caps.Items)
//	})
//
//	b.SubscribeAll(func(ev workerbridge.Event) {
//	    if ev.Terminal() {
//	        fmt.Println("worker stopped, exit code", ev.ExitCode)
//	    }
//	})
//
//	err := b.Start(ctx,
//	    workerbridge.WithWorkerPath("python3"),
//	    workerbridge.WithArgs("client/bridge.py"),
//	    workerbridge.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	_ = b.SendCommand(ctx, "List the files in /tmp")
//
// # Events
//
// Each non-blank output line becomes exactly one event, numbered in output
// order:
//   - a JSON object with a string "type" is a record routed to that topic
//   - a JSON object without one is a default event seen only by catch-all
//     subscribers
//   - anything else is a raw event on TopicRaw with a ParseWarning
//
// When the output ends, one terminal event is published on TopicExited
// carrying the worker's exit code and, if reading failed, a ReadError.
//
// # Error Handling
//
// Start returns SpawnError or HandshakeError. SendCommand returns WriteError
// once the worker is gone. All bridge errors implement BridgeError:
//
//	if _, ok := errors.AsType[*workerbridge.SpawnError](err); ok {
//	    // worker executable missing
//	}
//
// # Lifecycle
//
// Use WithBridge for automatic cleanup, or NewBridge with a deferred Close.
// Close sends {"cmd":"__shutdown__"}, closes the worker's stdin, and
// escalates to SIGTERM and then SIGKILL if the worker does not exit within
// the grace period.
package workerbridge
