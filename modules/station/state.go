package station

// PlayerState is the playback session state. Exactly one state is active
// per session at any time.
type PlayerState int

const (
	// StateIdle is the initial state before playback starts.
	StateIdle PlayerState = iota

	// StateBuffering means the transcoder is running but no PCM has
	// arrived yet.
	StateBuffering

	// StatePlaying means PCM frames are being relayed into the voice
	// channel.
	StatePlaying

	// StatePaused is an explicit operator pause; the stream keeps being
	// drained but nothing is sent.
	StatePaused

	// StateAutoPaused means the voice connection temporarily cannot accept
	// audio; frames are dropped until it recovers.
	StateAutoPaused

	// StateStopped is terminal: stream end, process exit, voice failure,
	// or explicit stop. The only transition with control-flow consequence.
	StateStopped
)

func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateAutoPaused:
		return "autopaused"
	case StateStopped:
		return "stopped"
	}

	return "unknown"
}

// Transition records a state change. All transitions are observational
// except the one into StateStopped, which drives reconnection.
type Transition struct {
	From   PlayerState
	To     PlayerState
	Reason string
}
