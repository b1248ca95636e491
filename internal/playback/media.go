package playback

// MediaController is the local player the engine drives. Implementations
// front a real player (an embedded player process, a remote-control API) and
// must be cheap to query: CurrentTime and Paused are read on every
// reconciliation pass.
type MediaController interface {
	Play() error
	Pause() error
	// SeekTo positions playback at the given offset in seconds.
	SeekTo(seconds float64) error
	// CurrentTime reports the current playback position in seconds.
	CurrentTime() float64
	// Paused reports whether the player is paused. This is the ground
	// truth for play state; the engine never assumes its last command
	// stuck.
	Paused() bool
}

// State describes where the engine is in its lifecycle.
type State int

const (
	// StateIdle is the initial state, before Attach.
	StateIdle State = iota
	// StateAttaching means the initial snapshot is being applied.
	StateAttaching
	// StateWaitingForPeer means this viewer hosts the session and nobody
	// else has joined yet. The engine holds playback paused until a peer
	// arrives.
	StateWaitingForPeer
	// StateSyncing is the steady state: local actions are published and
	// remote updates are reconciled against the player.
	StateSyncing
	// StateDetached means the engine has stopped and will issue no
	// further commands.
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttaching:
		return "attaching"
	case StateWaitingForPeer:
		return "waiting_for_peer"
	case StateSyncing:
		return "syncing"
	case StateDetached:
		return "detached"
	default:
		return "unknown"
	}
}
