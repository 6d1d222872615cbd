package station

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitionLog struct {
	mu    sync.Mutex
	items []Transition
}

func (l *transitionLog) record(t Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, t)
}

func (l *transitionLog) states() []PlayerState {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]PlayerState, 0, len(l.items))
	for _, t := range l.items {
		out = append(out, t.To)
	}

	return out
}

func sessionLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeProcess() *fakeProcess {
	pr, pw := io.Pipe()
	var live atomic.Int32
	live.Add(1)

	return &fakeProcess{pr: pr, pw: pw, done: make(chan struct{}), live: &live}
}

func TestSession_PlaysAndEndsOnEOF(t *testing.T) {
	proc := newPipeProcess()
	conn := &fakeConn{}
	log := &transitionLog{}

	sess := newSession(context.Background(), sessionLogger(), proc, conn, time.Minute, log.record)

	proc.feed(t, oneFrame())
	proc.feed(t, oneFrame())
	proc.exit()

	sess.wait()

	state, reason := sess.status()
	assert.Equal(t, StateStopped, state)
	assert.Contains(t, reason, "stream ended")
	assert.Equal(t, []PlayerState{StateBuffering, StatePlaying, StateStopped}, log.states())
	assert.Equal(t, 1, conn.closeCount())
}

func TestSession_FirstByteTimeout(t *testing.T) {
	proc := newPipeProcess()
	conn := &fakeConn{}
	log := &transitionLog{}

	sess := newSession(context.Background(), sessionLogger(), proc, conn, 20*time.Millisecond, log.record)

	done := make(chan struct{})
	go func() {
		sess.wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after first-byte timeout")
	}

	state, reason := sess.status()
	assert.Equal(t, StateStopped, state)
	assert.Equal(t, "no data from transcoder", reason)

	// Never reached playing.
	assert.NotContains(t, log.states(), StatePlaying)
}

func TestSession_StopIsTerminalAndComplete(t *testing.T) {
	proc := newPipeProcess()
	conn := &fakeConn{}

	sess := newSession(context.Background(), sessionLogger(), proc, conn, time.Minute, nil)

	proc.feed(t, oneFrame())
	sess.stop()

	state, reason := sess.status()
	assert.Equal(t, StateStopped, state)
	assert.Equal(t, "stopped", reason)
	assert.Equal(t, int32(0), proc.live.Load())
	assert.Equal(t, 1, conn.closeCount())

	// Idempotent after terminal.
	sess.stop()
	assert.Equal(t, 1, conn.closeCount())
}

func TestSession_PauseResume(t *testing.T) {
	proc := newPipeProcess()
	conn := &fakeConn{}
	log := &transitionLog{}

	sess := newSession(context.Background(), sessionLogger(), proc, conn, time.Minute, log.record)
	defer sess.stop()

	proc.feed(t, oneFrame())

	require.Eventually(t, func() bool {
		return sess.currentState() == StatePlaying
	}, 5*time.Second, time.Millisecond)

	sess.pause()
	assert.Equal(t, StatePaused, sess.currentState())

	// The upstream keeps being drained while paused; nothing is sent.
	conn.mu.Lock()
	before := conn.writes
	conn.mu.Unlock()

	proc.feed(t, oneFrame())
	proc.feed(t, oneFrame())

	conn.mu.Lock()
	after := conn.writes
	conn.mu.Unlock()
	assert.Equal(t, before, after)

	sess.resume()
	assert.Equal(t, StatePlaying, sess.currentState())

	proc.feed(t, oneFrame())

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.writes > after
	}, 5*time.Second, time.Millisecond)
}

func TestSession_PauseIgnoredWhenNotPlaying(t *testing.T) {
	proc := newPipeProcess()
	conn := &fakeConn{}

	sess := newSession(context.Background(), sessionLogger(), proc, conn, time.Minute, nil)
	defer sess.stop()

	// Still buffering: pause is a no-op.
	sess.pause()
	assert.NotEqual(t, StatePaused, sess.currentState())
}

// flakyConn fails a scripted number of writes with a temporary error.
type flakyConn struct {
	fakeConn
	failures atomic.Int32
}

type tempErr struct{}

func (tempErr) Error() string   { return "voice not ready" }
func (tempErr) Temporary() bool { return true }

func (c *flakyConn) Write(p []byte) (int, error) {
	if c.failures.Load() > 0 {
		c.failures.Add(-1)
		return 0, tempErr{}
	}

	return c.fakeConn.Write(p)
}

func TestSession_AutoPauseRecovers(t *testing.T) {
	proc := newPipeProcess()
	conn := &flakyConn{}
	conn.failures.Store(1)
	log := &transitionLog{}

	sess := newSession(context.Background(), sessionLogger(), proc, conn, time.Minute, log.record)
	defer sess.stop()

	proc.feed(t, oneFrame())
	proc.feed(t, oneFrame())

	require.Eventually(t, func() bool {
		states := log.states()
		for i, s := range states {
			if s == StateAutoPaused {
				// Recovered back to playing afterwards.
				return len(states) > i+1 && states[i+1] == StatePlaying
			}
		}
		return false
	}, 5*time.Second, time.Millisecond)
}

func TestSession_PermanentWriteErrorIsTerminal(t *testing.T) {
	proc := newPipeProcess()
	conn := &errConn{}

	sess := newSession(context.Background(), sessionLogger(), proc, conn, time.Minute, nil)

	proc.feed(t, oneFrame())
	sess.wait()

	state, reason := sess.status()
	assert.Equal(t, StateStopped, state)
	assert.Contains(t, reason, "voice write failed")
	assert.Equal(t, int32(0), proc.live.Load())
}

type errConn struct {
	fakeConn
}

func (c *errConn) Write(p []byte) (int, error) {
	return 0, io.ErrClosedPipe
}
