package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kopi-dev/kopi/src/core"
)

func waitTerminal(t *testing.T, e *Executor, id string) *core.CommandRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := e.Get(id)
		require.True(t, ok)
		if rec.State.Terminal() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("command never reached a terminal state")
	return nil
}

func TestSubmitSuccess(t *testing.T) {
	e := New(nil)
	rec := e.Submit("true", t.TempDir(), nil, 10*time.Second)
	final := waitTerminal(t, e, rec.ID)
	assert.Equal(t, core.CommandCompleted, final.State)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 0, *final.ExitCode)
}

func TestSubmitFailure(t *testing.T) {
	e := New(nil)
	rec := e.Submit("false", t.TempDir(), nil, 10*time.Second)
	final := waitTerminal(t, e, rec.ID)
	assert.Equal(t, core.CommandFailed, final.State)
	require.NotNil(t, final.ExitCode)
	assert.NotEqual(t, 0, *final.ExitCode)
}

func TestSubmitTimeout(t *testing.T) {
	e := New(nil)
	rec := e.Submit("sleep 10", t.TempDir(), nil, 200*time.Millisecond)
	final := waitTerminal(t, e, rec.ID)
	assert.Equal(t, core.CommandTimeout, final.State)
}

func TestSubmitOutputCapture(t *testing.T) {
	e := New(nil)
	rec := e.Submit("echo hello", t.TempDir(), nil, 10*time.Second)
	final := waitTerminal(t, e, rec.ID)
	assert.Equal(t, core.CommandCompleted, final.State)
	assert.Equal(t, "hello\n", final.OutputBuffer)
}

func TestSubmitEnvOverride(t *testing.T) {
	e := New(nil)
	rec := e.Submit("echo $KOPI_TEST_VAR", t.TempDir(), map[string]string{"KOPI_TEST_VAR": "xyz"}, 10*time.Second)
	final := waitTerminal(t, e, rec.ID)
	assert.Equal(t, "xyz\n", final.OutputBuffer)
}

func TestSubmitUnknownCommand(t *testing.T) {
	e := New(nil)
	rec := e.Submit("this-binary-does-not-exist-anywhere", t.TempDir(), nil, 10*time.Second)
	final := waitTerminal(t, e, rec.ID)
	assert.Equal(t, core.CommandFailed, final.State)
}

func TestGetUnknown(t *testing.T) {
	e := New(nil)
	_, ok := e.Get("no-such-id")
	assert.False(t, ok)
}
