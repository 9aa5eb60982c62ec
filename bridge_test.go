package workerbridge_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	workerbridge "github.com/wagiedev/workerbridge"
	"github.com/wagiedev/workerbridge/internal/testutil/fakeworker"
)

func TestMain(m *testing.M) {
	fakeworker.RunIfRequested()
	os.Exit(m.Run())
}

func fakeWorker(mode string) []workerbridge.Option {
	return []workerbridge.Option{
		workerbridge.WithWorkerPath(fakeworker.Path()),
		workerbridge.WithEnv(fakeworker.Env(mode)),
		workerbridge.WithGracePeriod(time.Second),
		workerbridge.WithLogger(slog.New(slog.DiscardHandler)),
	}
}

// recorder collects events and signals when the terminal one arrives.
type recorder struct {
	mu     sync.Mutex
	events []workerbridge.Event
}

func (r *recorder) handle(ev workerbridge.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

func (r *recorder) all() []workerbridge.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]workerbridge.Event(nil), r.events...)
}

func (r *recorder) eventually(t *testing.T, n int) []workerbridge.Event {
	t.Helper()

	require.Eventually(t, func() bool { return len(r.all()) >= n }, 5*time.Second, 10*time.Millisecond)

	return r.all()
}

func TestBridge_CapabilitiesThenAnswer(t *testing.T) {
	b := workerbridge.NewBridge()
	t.Cleanup(func() { _ = b.Close() })

	var capabilities, all recorder

	b.Subscribe("capabilities", capabilities.handle)
	b.SubscribeAll(all.handle)

	require.NoError(t, b.Start(context.Background(), fakeWorker(fakeworker.ModeAnnounce)...))

	caps := capabilities.eventually(t, 1)

	var payload struct {
		Items []string `json:"items"`
	}

	require.NoError(t, caps[0].Decode(&payload))
	require.Equal(t, []string{"a", "b"}, payload.Items)

	events := all.eventually(t, 2)
	require.Equal(t, "capabilities", events[0].Topic)
	require.Equal(t, "42", events[1].StringField("text"))
}

func TestBridge_BadWorkerPath(t *testing.T) {
	b := workerbridge.NewBridge()

	err := b.Start(context.Background(),
		workerbridge.WithWorkerPath(filepath.Join(t.TempDir(), "nope")),
	)

	spawnErr, ok := errors.AsType[*workerbridge.SpawnError](err)
	require.True(t, ok, "got %v", err)
	require.True(t, spawnErr.IsBridgeError())
	require.Zero(t, b.PID())
	require.ErrorIs(t, b.SendCommand(context.Background(), "x"), workerbridge.ErrNotStarted)
	require.NoError(t, b.Close())
}

func TestBridge_HandshakeTimeout(t *testing.T) {
	b := workerbridge.NewBridge()

	opts := append(fakeWorker(fakeworker.ModeSilent),
		workerbridge.WithHandshakeTimeout(100*time.Millisecond),
		workerbridge.WithGracePeriod(100*time.Millisecond),
	)

	err := b.Start(context.Background(), opts...)

	_, ok := errors.AsType[*workerbridge.HandshakeError](err)
	require.True(t, ok, "got %v", err)
	require.ErrorIs(t, err, workerbridge.ErrHandshakeTimeout)
}

func TestBridge_RoundTripAndClose(t *testing.T) {
	b := workerbridge.NewBridge()

	var replies, exited recorder

	b.SubscribeAll(func(ev workerbridge.Event) {
		if ev.Kind == workerbridge.KindDefault {
			replies.handle(ev)
		}
	})
	b.Subscribe(workerbridge.TopicExited, exited.handle)

	require.NoError(t, b.Start(context.Background(), fakeWorker(fakeworker.ModeEcho)...))
	require.NotZero(t, b.PID())

	require.NoError(t, b.SendCommand(context.Background(), `say "hi" <b>&</b>`))

	events := replies.eventually(t, 1)
	ok, present := events[0].OK()
	require.True(t, ok && present)
	require.Equal(t, `say "hi" <b>&</b>`, events[0].StringField("response"))

	require.NoError(t, b.Close())

	<-b.Done()

	terminal := exited.all()
	require.Len(t, terminal, 1)
	require.Equal(t, workerbridge.KindExited, terminal[0].Kind)
	require.Equal(t, 0, terminal[0].ExitCode)
	require.NoError(t, b.Err())

	require.ErrorIs(t, b.SendCommand(context.Background(), "late"), workerbridge.ErrBridgeClosed)
}

func TestBridge_TopicSchema(t *testing.T) {
	b := workerbridge.NewBridge()
	t.Cleanup(func() { _ = b.Close() })

	var caps recorder

	b.Subscribe("capabilities", caps.handle)

	opts := append(fakeWorker(fakeworker.ModeAnnounce),
		workerbridge.WithTopicSchema("capabilities", workerbridge.SimpleSchema(map[string]string{"items": "[]string"})),
	)

	require.NoError(t, b.Start(context.Background(), opts...))

	events := caps.eventually(t, 1)
	require.NoError(t, events[0].SchemaErr)
}
