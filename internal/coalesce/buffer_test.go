// internal/coalesce/buffer_test.go
package coalesce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-engine/internal/common/logger"
)

const testDelay = 50 * time.Millisecond

// collector captures callback invocations for assertions.
type collector struct {
	mu    sync.Mutex
	texts []string
}

func (c *collector) callback(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.texts))
	copy(out, c.texts)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestBurstProducesSingleCallback(t *testing.T) {
	b := New(testDelay, logger.NewTestLogger(t))
	var c collector

	assert.True(t, b.Submit("+96170123456", "hey", KindText, c.callback))
	assert.True(t, b.Submit("+96170123456", "I want to", KindText, c.callback))
	assert.True(t, b.Submit("+96170123456", "book an appointment", KindText, c.callback))

	waitFor(t, func() bool { return len(c.got()) > 0 })
	require.Len(t, c.got(), 1)
	assert.Equal(t, "hey I want to book an appointment", c.got()[0])
	assert.Equal(t, 0, b.Pending())
}

func TestWhitespaceCollapsed(t *testing.T) {
	b := New(testDelay, logger.NewTestLogger(t))
	var c collector

	b.Submit("+96170123456", "  hello \n", KindText, c.callback)
	b.Submit("+96170123456", "\tworld  ", KindText, c.callback)

	waitFor(t, func() bool { return len(c.got()) > 0 })
	assert.Equal(t, "hello world", c.got()[0])
}

func TestFragmentAfterFlushOpensNewSession(t *testing.T) {
	b := New(testDelay, logger.NewTestLogger(t))
	var c collector

	b.Submit("+96170123456", "first", KindText, c.callback)
	waitFor(t, func() bool { return len(c.got()) == 1 })

	b.Submit("+96170123456", "second", KindText, c.callback)
	waitFor(t, func() bool { return len(c.got()) == 2 })

	assert.Equal(t, []string{"first", "second"}, c.got())
}

func TestRecipientsAreIndependent(t *testing.T) {
	b := New(testDelay, logger.NewTestLogger(t))
	var a, c collector

	b.Submit("+96170111111", "from a", KindText, a.callback)
	b.Submit("+96170222222", "from b", KindText, c.callback)
	assert.Equal(t, 2, b.Pending())

	waitFor(t, func() bool { return len(a.got()) == 1 && len(c.got()) == 1 })
	assert.Equal(t, "from a", a.got()[0])
	assert.Equal(t, "from b", c.got()[0])
}

func TestNonTextBypassesBuffer(t *testing.T) {
	b := New(testDelay, logger.NewTestLogger(t))
	var c collector

	buffered := b.Submit("+96170123456", "image-ref", "image", c.callback)
	assert.False(t, buffered)
	assert.Equal(t, []string{"image-ref"}, c.got())
	assert.Equal(t, 0, b.Pending())
}

func TestClearDropsSessionWithoutFiring(t *testing.T) {
	b := New(testDelay, logger.NewTestLogger(t))
	var c collector

	b.Submit("+96170123456", "to be dropped", KindText, c.callback)
	b.Clear("+96170123456")
	assert.Equal(t, 0, b.Pending())

	time.Sleep(3 * testDelay)
	assert.Empty(t, c.got())
}

func TestCallbackPanicDoesNotKillBuffer(t *testing.T) {
	b := New(testDelay, logger.NewTestLogger(t))

	b.Submit("+96170123456", "boom", KindText, func(string) { panic("consumer bug") })
	time.Sleep(3 * testDelay)

	var c collector
	b.Submit("+96170123456", "still alive", KindText, c.callback)
	waitFor(t, func() bool { return len(c.got()) == 1 })
	assert.Equal(t, "still alive", c.got()[0])
}

func TestLatestCallbackWins(t *testing.T) {
	b := New(testDelay, logger.NewTestLogger(t))
	var first, second collector

	b.Submit("+96170123456", "one", KindText, first.callback)
	b.Submit("+96170123456", "two", KindText, second.callback)

	waitFor(t, func() bool { return len(second.got()) == 1 })
	assert.Empty(t, first.got())
	assert.Equal(t, "one two", second.got()[0])
}
