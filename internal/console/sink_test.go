package console

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "rafflebot/pkg/logx"
)

func TestPrintWritesAndMirrors(t *testing.T) {
	t.Parallel()
	var out, logs bytes.Buffer
	s := New(&out, time.Minute, logx.NewWriter(&logs, "debug"))

	at := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)
	s.Print("Hit Milestone! Raised over 100USD", SourceTiltify, at)
	s.Print("   ", SourceTiltify, at)

	assert.Equal(t, "[12:30:05] tiltify  Hit Milestone! Raised over 100USD\n", out.String())
	assert.Contains(t, logs.String(), `"source":"tiltify"`)
	require.Len(t, s.History(), 1)
	assert.Equal(t, at, s.History()[0].At)
}

func TestPrune(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(nil, 5*time.Minute, logx.Nop())
	s.now = func() time.Time { return now }

	s.Print("old", SourceApp, now.Add(-6*time.Minute))
	s.Print("edge", SourceApp, now.Add(-5*time.Minute))
	s.Print("new", SourceApp, now.Add(-time.Minute))

	assert.Equal(t, 1, s.Prune())
	var texts []string
	for _, m := range s.History() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"edge", "new"}, texts)
}

func TestZeroLifetimeKeepsEverything(t *testing.T) {
	t.Parallel()
	s := New(nil, 0, logx.Nop())
	s.Print("ancient", SourceNone, time.Unix(0, 0))
	assert.Zero(t, s.Prune())
	assert.Len(t, s.History(), 1)

	s.SetLifetime(time.Second)
	assert.Equal(t, 1, s.Prune())
	assert.Empty(t, s.History())
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(nil, time.Minute, logx.Nop())
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()
}

func TestMessageString(t *testing.T) {
	t.Parallel()
	m := Message{Text: "hello", At: time.Date(2024, 1, 1, 1, 2, 3, 0, time.UTC)}
	assert.True(t, strings.HasPrefix(m.String(), "[01:02:03] -"))
}
