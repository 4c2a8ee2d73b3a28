package applog

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFactoryScopesAndLevels(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	lf := NewLoggerFactory(zerolog.New(&buf).Level(zerolog.InfoLevel))
	l := lf.NewLogger("engine")

	l.Debugf("hidden %d", 1)
	l.Warnf("offer to %s", "peer-2")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "engine", entry["scope"])
	assert.Equal(t, "offer to peer-2", entry["message"])
}

func TestSetupTeesAndSetLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var tee bytes.Buffer
	l, err := Setup("warn", true, &tee)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	l.Info().Msg("quiet")
	l.Error().Msg("loud")
	assert.NotContains(t, tee.String(), "quiet")
	assert.Contains(t, tee.String(), "loud")

	require.NoError(t, SetLevel("debug"))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
	assert.Error(t, SetLevel("shouty"))

	_, err = Setup("nope", false)
	assert.Error(t, err)
}

func TestTailSplitsLines(t *testing.T) {
	tail := NewTail(2)
	_, _ = io.WriteString(tail, "one\ntw")
	require.Len(t, tail.Last(0), 1)

	_, _ = io.WriteString(tail, "o\r\n\nthree\n")
	got := tail.Last(0)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Line)
	assert.Equal(t, "three", got[1].Line)
	assert.Equal(t, []uint64{2, 3}, []uint64{got[0].Seq, got[1].Seq})
	assert.Equal(t, []Entry{got[1]}, tail.Last(1))

	assert.Equal(t, got, tail.Since(0), "evicted lines are simply absent")
	assert.Equal(t, []Entry{got[1]}, tail.Since(2))
	assert.Empty(t, tail.Since(3))
}

func TestTailFollow(t *testing.T) {
	tail := NewTail(4)
	lines, stop := tail.Follow()
	_, _ = io.WriteString(tail, "hello\n")

	select {
	case e := <-lines:
		assert.Equal(t, "hello", e.Line)
		assert.Equal(t, uint64(1), e.Seq)
	case <-time.After(time.Second):
		t.Fatal("no line delivered")
	}

	stop()
	stop()
	_, ok := <-lines
	assert.False(t, ok)
	_, err := io.WriteString(tail, "after stop\n")
	assert.NoError(t, err)
}
