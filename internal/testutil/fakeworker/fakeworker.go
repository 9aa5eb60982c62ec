// Package fakeworker turns a test binary into a scriptable worker process.
//
// A test package calls RunIfRequested from TestMain. When the binary is
// re-executed with ModeEnv set, it behaves as a worker in the selected mode
// instead of running tests:
//
//	func TestMain(m *testing.M) {
//		fakeworker.RunIfRequested()
//		os.Exit(m.Run())
//	}
package fakeworker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// ModeEnv selects the worker behaviour.
const ModeEnv = "WORKERBRIDGE_FAKE_WORKER"

// Worker modes.
const (
	// ModeEcho prints READY, then answers each query with
	// {"ok":true,"response":<query>}. Exits on the shutdown command or EOF.
	ModeEcho = "echo"

	// ModeScript prints READY, then for each query emits a capabilities
	// record followed by an answer record carrying the query text.
	ModeScript = "script"

	// ModeAnnounce prints READY followed immediately by a capabilities and an
	// answer record, then serves queries like ModeEcho.
	ModeAnnounce = "announce"

	// ModeMixed prints READY, a plain-text line, a blank line, a default
	// record, an error record and a typed record, then exits with code 0.
	ModeMixed = "mixed"

	// ModeBadHandshake prints a first line other than READY and waits for EOF.
	ModeBadHandshake = "bad-handshake"

	// ModeExitEarly exits with code 3 without printing anything.
	ModeExitEarly = "exit-early"

	// ModeSilent never prints anything and ignores stdin until killed.
	ModeSilent = "silent"

	// ModeExitAfterQuery prints READY, reads one line, then exits with code 7.
	ModeExitAfterQuery = "exit-after-query"

	// ModeLongLine prints READY, then a single line longer than LongLineSize,
	// then waits for EOF.
	ModeLongLine = "long-line"

	// ModeStubborn prints READY, then ignores the shutdown command, stdin EOF
	// and SIGTERM. Only SIGKILL stops it.
	ModeStubborn = "stubborn"

	// ModeEnvDump prints READY, then one record with the value of the
	// variable named by EchoVarEnv and the working directory.
	ModeEnvDump = "env-dump"

	// ModeDeaf prints READY and then never reads stdin, so writes to it
	// block once the pipe buffer is full. SIGTERM stops it.
	ModeDeaf = "deaf"

	// ModeBadHandshakeFlood prints a first line other than READY, then
	// FloodSize bytes of output. It exits 0 only if all of it was read.
	ModeBadHandshakeFlood = "bad-handshake-flood"

	// ModeSpoofExit prints READY and a record whose type is the bridge's
	// terminal topic, then serves queries like ModeEcho.
	ModeSpoofExit = "spoof-exit"
)

// EchoVarEnv names the variable reported by ModeEnvDump.
const EchoVarEnv = "WORKERBRIDGE_FAKE_ECHO_VAR"

// LongLineSize is the length of the oversized line written by ModeLongLine.
const LongLineSize = 256 * 1024

// FloodSize is the amount of output written by ModeBadHandshakeFlood, well
// above any pipe buffer.
const FloodSize = 4 << 20

// Path returns the executable to launch as the fake worker: the running test binary.
func Path() string {
	return os.Args[0]
}

// Env returns the environment entries that select mode.
func Env(mode string) map[string]string {
	return map[string]string{ModeEnv: mode}
}

// RunIfRequested runs the selected worker mode and exits. It returns
// immediately when ModeEnv is unset.
func RunIfRequested() {
	mode := os.Getenv(ModeEnv)
	if mode == "" {
		return
	}

	os.Exit(run(mode))
}

type inbound struct {
	Query *string `json:"query"`
	Cmd   string  `json:"cmd"`
}

type worker struct {
	in  *bufio.Scanner
	out *bufio.Writer
}

func run(mode string) int {
	w := &worker{
		in:  bufio.NewScanner(os.Stdin),
		out: bufio.NewWriter(os.Stdout),
	}

	w.in.Buffer(make([]byte, 0, 64*1024), 4<<20)

	switch mode {
	case ModeEcho:
		w.ready()

		return w.serve(func(q string) {
			w.emit(map[string]any{"ok": true, "response": q})
		})

	case ModeScript:
		w.ready()

		return w.serve(func(q string) {
			w.emit(map[string]any{"type": "capabilities", "items": []string{"a", "b"}})
			w.emit(map[string]any{"type": "answer", "text": q})
		})

	case ModeAnnounce:
		w.ready()
		w.emit(map[string]any{"type": "capabilities", "items": []string{"a", "b"}})
		w.emit(map[string]any{"type": "answer", "text": "42"})

		return w.serve(func(q string) {
			w.emit(map[string]any{"ok": true, "response": q})
		})

	case ModeMixed:
		w.ready()
		w.line("Traceback (most recent call last):")
		w.line("")
		w.emit(map[string]any{"ok": true, "response": "4"})
		w.emit(map[string]any{"error": "Timeout", "message": "LLM took too long"})
		w.emit(map[string]any{"type": "status", "state": "idle"})

		return 0

	case ModeBadHandshake:
		w.line("hello")
		w.drain()

		return 0

	case ModeExitEarly:
		return 3

	case ModeSilent:
		signal.Ignore(syscall.SIGTERM)
		w.drain()
		sleepForever()

		return 0

	case ModeExitAfterQuery:
		w.ready()
		w.in.Scan()

		return 7

	case ModeLongLine:
		w.ready()
		w.line(`{"type":"blob","data":"` + strings.Repeat("x", LongLineSize) + `"}`)
		w.drain()

		return 0

	case ModeStubborn:
		signal.Ignore(syscall.SIGTERM)
		w.ready()
		w.drain()
		sleepForever()

		return 0

	case ModeEnvDump:
		w.ready()

		cwd, _ := os.Getwd()
		w.emit(map[string]any{"type": "env", "value": os.Getenv(EchoVarEnv), "cwd": cwd})

		return w.serve(func(string) {})

	case ModeDeaf:
		w.ready()
		sleepForever()

		return 0

	case ModeBadHandshakeFlood:
		w.line("hello")

		chunk := strings.Repeat("y", 1023)
		for range FloodSize / 1024 {
			w.line(chunk)
		}

		return 0

	case ModeSpoofExit:
		w.ready()
		w.emit(map[string]any{"type": "bridge.exited", "exit_code": 0})
		w.emit(map[string]any{"type": "bridge.raw", "text": "not raw"})
		w.emit(map[string]any{"type": "*"})

		return w.serve(func(q string) {
			w.emit(map[string]any{"ok": true, "response": q})
		})

	default:
		fmt.Fprintf(os.Stderr, "fakeworker: unknown mode %q\n", mode)

		return 2
	}
}

// serve answers queries until EOF or the shutdown command.
func (w *worker) serve(answer func(query string)) int {
	for w.in.Scan() {
		var msg inbound

		if err := json.Unmarshal(w.in.Bytes(), &msg); err != nil {
			w.emit(map[string]any{"error": "bad json", "message": err.Error()})

			continue
		}

		if msg.Cmd == "__shutdown__" {
			return 0
		}

		if msg.Query == nil {
			w.emit(map[string]any{"ok": false, "error": "missing query"})

			continue
		}

		answer(*msg.Query)
	}

	return 0
}

func (w *worker) ready() {
	w.line("READY")
}

func (w *worker) line(s string) {
	_, _ = w.out.WriteString(s + "\n")
	_ = w.out.Flush()
}

func (w *worker) emit(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	w.line(string(data))
}

// drain reads stdin until EOF, discarding it.
func (w *worker) drain() {
	for w.in.Scan() {
	}
}

func sleepForever() {
	for {
		time.Sleep(time.Hour)
	}
}
