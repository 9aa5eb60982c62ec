package event

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/workerbridge/internal/errors"
)

func TestParse_Classification(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantKind  Kind
		wantTopic string
		wantWarn  bool
	}{
		{
			name:      "record with discriminant",
			line:      `{"type":"capabilities","items":["a","b"]}`,
			wantKind:  KindRecord,
			wantTopic: "capabilities",
		},
		{
			name:      "record with other discriminant",
			line:      `{"type":"answer","text":"42"}`,
			wantKind:  KindRecord,
			wantTopic: "answer",
		},
		{
			name:     "object without type",
			line:     `{"ok":true,"response":"4"}`,
			wantKind: KindDefault,
		},
		{
			name:     "non-string type",
			line:     `{"type":7}`,
			wantKind: KindDefault,
		},
		{
			name:     "empty type",
			line:     `{"type":""}`,
			wantKind: KindDefault,
		},
		{
			name:     "reserved terminal topic",
			line:     `{"type":"bridge.exited","exit_code":0}`,
			wantKind: KindDefault,
		},
		{
			name:     "reserved raw topic",
			line:     `{"type":"bridge.raw"}`,
			wantKind: KindDefault,
		},
		{
			name:     "catch-all topic",
			line:     `{"type":"*"}`,
			wantKind: KindDefault,
		},
		{
			name:      "plain text",
			line:      "Traceback (most recent call last):",
			wantKind:  KindRaw,
			wantTopic: TopicRaw,
			wantWarn:  true,
		},
		{
			name:      "truncated json",
			line:      `{"type":"answer",`,
			wantKind:  KindRaw,
			wantTopic: TopicRaw,
			wantWarn:  true,
		},
		{
			name:      "json array",
			line:      `["a","b"]`,
			wantKind:  KindRaw,
			wantTopic: TopicRaw,
			wantWarn:  true,
		},
		{
			name:      "json null",
			line:      `null`,
			wantKind:  KindRaw,
			wantTopic: TopicRaw,
			wantWarn:  true,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := uint64(i + 1)

			ev, warning := Parse(seq, []byte(tt.line))

			require.Equal(t, tt.wantKind, ev.Kind)
			require.Equal(t, tt.wantTopic, ev.Topic)
			require.Equal(t, seq, ev.Seq)
			require.Equal(t, tt.line, ev.Raw)
			require.False(t, ev.ReceivedAt.IsZero())

			if tt.wantWarn {
				require.NotNil(t, warning)
				require.Equal(t, tt.line, warning.Raw)
				require.Error(t, ev.Warning)
				require.Nil(t, ev.Payload)

				return
			}

			require.Nil(t, warning)
			require.NoError(t, ev.Warning)
			require.NotNil(t, ev.Payload)
		})
	}
}

func TestIsReserved(t *testing.T) {
	require.True(t, IsReserved(TopicAll))
	require.True(t, IsReserved(TopicRaw))
	require.True(t, IsReserved(TopicExited))
	require.False(t, IsReserved("bridge.status"))
	require.False(t, IsReserved("answer"))
}

func TestParse_NonObjectWarning(t *testing.T) {
	_, warning := Parse(1, []byte(`"just a string"`))
	require.NotNil(t, warning)
	require.ErrorIs(t, warning, errNotObject)

	var parseWarning *errors.ParseWarning
	require.True(t, stderrors.As(warning, &parseWarning))
}

func TestParse_PayloadHelpers(t *testing.T) {
	ev, warning := Parse(1, []byte(`{"ok":false,"error":"boom","trace":"..."}`))
	require.Nil(t, warning)

	ok, present := ev.OK()
	assert.True(t, present)
	assert.False(t, ok)
	assert.Equal(t, "boom", ev.ErrorMessage())
	assert.Equal(t, "...", ev.StringField("trace"))
	assert.Empty(t, ev.StringField("missing"))
}

func TestEvent_Decode(t *testing.T) {
	ev, _ := Parse(1, []byte(`{"type":"capabilities","items":["a","b"]}`))

	var caps struct {
		Items []string `json:"items"`
	}

	require.NoError(t, ev.Decode(&caps))
	require.Equal(t, []string{"a", "b"}, caps.Items)

	raw, _ := Parse(2, []byte("not json"))
	require.Error(t, raw.Decode(&caps))
}

func TestExited(t *testing.T) {
	readErr := &errors.ReadError{Err: stderrors.New("token too long")}

	ev := Exited(9, readErr, -1)

	require.True(t, ev.Terminal())
	require.Equal(t, KindExited, ev.Kind)
	require.Equal(t, TopicExited, ev.Topic)
	require.Equal(t, uint64(9), ev.Seq)
	require.Equal(t, -1, ev.ExitCode)
	require.ErrorIs(t, ev.Err, readErr)
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "record", KindRecord.String())
	require.Equal(t, "default", KindDefault.String())
	require.Equal(t, "raw", KindRaw.String())
	require.Equal(t, "exited", KindExited.String())
	require.Equal(t, "unknown", Kind(0).String())
}
