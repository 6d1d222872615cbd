package station

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// frameBytes is 20ms of 48kHz stereo s16le, the unit the voice layer
// consumes.
const frameBytes = 960 * 2 * 2

// session binds one transcoder process to one voice connection and drives
// the player state machine. The pairing is strict: teardown always stops
// the process and destroys the connection, and wait returns only once both
// are released.
type session struct {
	logger           *slog.Logger
	proc             Process
	conn             io.WriteCloser
	firstByteTimeout time.Duration
	onTransition     func(Transition)

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     PlayerState
	paused    bool
	reason    string
	playingAt time.Time
	endedAt   time.Time
}

func newSession(ctx context.Context, logger *slog.Logger, proc Process, conn io.WriteCloser, firstByteTimeout time.Duration, onTransition func(Transition)) *session {
	pumpCtx, cancel := context.WithCancel(ctx)

	sess := &session{
		logger:           logger,
		proc:             proc,
		conn:             conn,
		firstByteTimeout: firstByteTimeout,
		onTransition:     onTransition,
		cancel:           cancel,
		done:             make(chan struct{}),
		state:            StateIdle,
	}

	go sess.pump(pumpCtx)

	return sess
}

// wait blocks until the session is terminal and fully torn down.
func (sess *session) wait() {
	<-sess.done
}

// stop ends the session and blocks until teardown completes.
func (sess *session) stop() {
	sess.setReason("stopped")
	sess.cancel()
	sess.proc.Stop()
	sess.wait()
}

func (sess *session) pump(ctx context.Context) {
	defer sess.teardown()

	sess.toState(StateBuffering, "transcoder started")

	var watchdog *time.Timer
	if sess.firstByteTimeout > 0 {
		watchdog = time.AfterFunc(sess.firstByteTimeout, func() {
			sess.mu.Lock()
			buffering := sess.state == StateBuffering
			sess.mu.Unlock()

			if buffering {
				sess.setReason("no data from transcoder")
				sess.proc.Stop()
			}
		})
		defer watchdog.Stop()
	}

	frame := make([]byte, frameBytes)
	first := true

	for {
		if ctx.Err() != nil {
			sess.setReason("stopped")
			return
		}

		if _, err := io.ReadFull(sess.proc.Output(), frame); err != nil {
			sess.setReason("stream ended: " + err.Error())
			return
		}
		metricPCMBytes.Add(frameBytes)

		if first {
			first = false
			if watchdog != nil {
				watchdog.Stop()
			}
			sess.toState(StatePlaying, "first frame received")
		}

		if sess.isPaused() {
			// Keep draining the transcoder so its pipe doesn't back up.
			continue
		}

		if _, err := sess.conn.Write(frame); err != nil {
			var tmp interface{ Temporary() bool }
			if errors.As(err, &tmp) && tmp.Temporary() {
				sess.toState(StateAutoPaused, err.Error())
				continue
			}

			sess.setReason("voice write failed: " + err.Error())
			return
		}
		metricFramesSent.Inc()

		if sess.currentState() == StateAutoPaused {
			sess.toState(StatePlaying, "voice connection recovered")
		}
	}
}

func (sess *session) teardown() {
	sess.proc.Stop()

	if err := sess.conn.Close(); err != nil {
		sess.logger.Debug("error closing voice connection", "err", err)
	}

	sess.mu.Lock()
	sess.endedAt = time.Now()
	reason := sess.reason
	sess.mu.Unlock()

	sess.toState(StateStopped, reason)
	close(sess.done)
}

// healthyFor reports whether the session reached playing and survived at
// least interval before ending. Used to reset reconnect backoff.
func (sess *session) healthyFor(interval time.Duration) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.playingAt.IsZero() {
		return false
	}

	return sess.endedAt.Sub(sess.playingAt) >= interval
}

func (sess *session) pause() {
	sess.mu.Lock()
	if sess.state != StatePlaying && sess.state != StateAutoPaused {
		sess.mu.Unlock()
		return
	}
	sess.paused = true
	sess.mu.Unlock()

	sess.toState(StatePaused, "paused")
}

func (sess *session) resume() {
	sess.mu.Lock()
	if sess.state != StatePaused {
		sess.mu.Unlock()
		return
	}
	sess.paused = false
	sess.mu.Unlock()

	sess.toState(StatePlaying, "resumed")
}

func (sess *session) isPaused() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	return sess.paused
}

func (sess *session) currentState() PlayerState {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	return sess.state
}

func (sess *session) status() (PlayerState, string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	return sess.state, sess.reason
}

// setReason records the first terminal cause; later causes are dropped so
// an explicit stop isn't overwritten by the EOF it provokes.
func (sess *session) setReason(reason string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.reason == "" {
		sess.reason = reason
	}
}

func (sess *session) toState(to PlayerState, reason string) {
	sess.mu.Lock()
	from := sess.state
	if from == to || from == StateStopped {
		sess.mu.Unlock()
		return
	}
	sess.state = to
	if to == StatePlaying && sess.playingAt.IsZero() {
		sess.playingAt = time.Now()
	}
	sess.mu.Unlock()

	if sess.onTransition != nil {
		sess.onTransition(Transition{From: from, To: to, Reason: reason})
	}
}
