package dispatch

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wagiedev/workerbridge/internal/event"
)

func parse(t *testing.T, seq uint64, line string) event.Event {
	t.Helper()

	ev, _ := event.Parse(seq, []byte(line))

	return ev
}

func TestDispatcher_TopicAndCatchAll(t *testing.T) {
	d := New(nil)

	var capabilities, all []event.Event

	d.Subscribe("capabilities", func(ev event.Event) { capabilities = append(capabilities, ev) })
	d.SubscribeAll(func(ev event.Event) { all = append(all, ev) })

	require.Equal(t, 2, d.Publish(parse(t, 1, `{"type":"capabilities","items":["a","b"]}`)))
	require.Equal(t, 1, d.Publish(parse(t, 2, `{"type":"answer","text":"42"}`)))
	require.Equal(t, 1, d.Publish(parse(t, 3, `{"ok":true}`)))
	require.Equal(t, 1, d.Publish(parse(t, 4, `not json`)))

	require.Len(t, capabilities, 1)
	require.Equal(t, []any{"a", "b"}, capabilities[0].Payload["items"])

	require.Len(t, all, 4)
	require.Equal(t, "42", all[1].StringField("text"))
	require.Equal(t, event.KindDefault, all[2].Kind)
	require.Equal(t, event.KindRaw, all[3].Kind)
}

func TestDispatcher_SpecificBeforeWildcard(t *testing.T) {
	d := New(nil)

	var order []string

	d.SubscribeAll(func(event.Event) { order = append(order, "all") })
	d.Subscribe("answer", func(event.Event) { order = append(order, "answer-1") })
	d.Subscribe("answer", func(event.Event) { order = append(order, "answer-2") })

	d.Publish(parse(t, 1, `{"type":"answer"}`))

	require.Equal(t, []string{"answer-1", "answer-2", "all"}, order)
}

func TestDispatcher_CatchAllTopicNameDeliveredOnce(t *testing.T) {
	d := New(nil)

	calls := 0

	d.SubscribeAll(func(event.Event) { calls++ })

	d.Publish(parse(t, 1, `{"type":"*"}`))

	require.Equal(t, 1, calls)
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	d := New(nil)

	calls := 0

	id := d.Subscribe("answer", func(event.Event) { calls++ })
	require.NotEmpty(t, id)
	require.True(t, d.HasSubscribers("answer"))
	require.Equal(t, 1, d.Count())

	require.True(t, d.Unsubscribe(id))
	require.False(t, d.Unsubscribe(id))
	require.False(t, d.HasSubscribers("answer"))
	require.Equal(t, 0, d.Count())

	d.Publish(parse(t, 1, `{"type":"answer"}`))
	require.Equal(t, 0, calls)
}

func TestDispatcher_UniqueIDs(t *testing.T) {
	d := New(nil)

	seen := make(map[string]struct{})

	for range 50 {
		id := d.Subscribe("answer", func(event.Event) {})
		_, dup := seen[id]
		require.False(t, dup, "duplicate subscription id %s", id)
		seen[id] = struct{}{}
	}
}

func TestDispatcher_PanickingHandlerIsIsolated(t *testing.T) {
	d := New(nil)

	delivered := false

	d.Subscribe("answer", func(event.Event) { panic("handler bug") })
	d.SubscribeAll(func(event.Event) { delivered = true })

	require.NotPanics(t, func() {
		d.Publish(parse(t, 1, `{"type":"answer"}`))
	})
	require.True(t, delivered)
}

func TestDispatcher_ConcurrentSubscribe(t *testing.T) {
	d := New(nil)

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Go(func() {
			id := d.Subscribe(fmt.Sprintf("topic-%d", i%3), func(event.Event) {})
			if i%2 == 0 {
				d.Unsubscribe(id)
			}
		})
	}

	wg.Go(func() {
		for seq := range 50 {
			d.Publish(event.Event{Seq: uint64(seq), Kind: event.KindRecord, Topic: "topic-1"})
		}
	})

	wg.Wait()

	require.Equal(t, 10, d.Count())
}

// TestDispatcher_PreservesOrder checks that every subscriber sees published
// events in publish order, whatever mix of topics is published.
func TestDispatcher_PreservesOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		topics := []string{"capabilities", "answer", "status"}
		n := rapid.IntRange(1, 60).Draw(t, "n")

		d := New(nil)

		var all []uint64

		perTopic := make(map[string][]uint64)

		d.SubscribeAll(func(ev event.Event) { all = append(all, ev.Seq) })

		for _, topic := range topics {
			d.Subscribe(topic, func(ev event.Event) { perTopic[topic] = append(perTopic[topic], ev.Seq) })
		}

		for seq := uint64(1); seq <= uint64(n); seq++ {
			topic := rapid.SampledFrom(topics).Draw(t, "topic")
			d.Publish(event.Event{Seq: seq, Kind: event.KindRecord, Topic: topic})
		}

		if len(all) != n {
			t.Fatalf("catch-all received %d events, want %d", len(all), n)
		}

		for i, seq := range all {
			if seq != uint64(i+1) {
				t.Fatalf("catch-all order broken at %d: got seq %d", i, seq)
			}
		}

		for topic, seqs := range perTopic {
			for i := 1; i < len(seqs); i++ {
				if seqs[i] <= seqs[i-1] {
					t.Fatalf("topic %s out of order: %v", topic, seqs)
				}
			}
		}
	})
}
