// Package playback keeps one viewer's local player converged with the shared
// session state. One Engine per attachment; tearing down an attachment and
// starting a new one means a fresh Engine.
package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thetvman/couchsync/internal/config"
	"github.com/thetvman/couchsync/internal/domain"
	"github.com/thetvman/couchsync/internal/feed"
	"github.com/thetvman/couchsync/pkg/log"
)

// SessionStore is the slice of the session service the engine writes through.
type SessionStore interface {
	UpdatePlayback(ctx context.Context, sessionID string, playbackTime float64, isPlaying bool) error
}

// pendingWrite is a debounced outbound update. Rapid local events collapse
// into one write carrying the latest pair.
type pendingWrite struct {
	playbackTime float64
	isPlaying    bool
	due          time.Time
	valid        bool
}

// Engine reconciles a local MediaController against the shared session
// record. All methods are safe for concurrent use, but the intended shape is
// a single Run loop feeding HandleRemote and a UI layer feeding NotifyLocal.
type Engine struct {
	store SessionStore
	media MediaController
	cfg   config.SyncConfig
	l     zerolog.Logger

	now func() time.Time

	mu            sync.Mutex
	state         State
	sessionID     string
	isHost        bool
	participants  int
	guard         syncGuard
	pending       pendingWrite
	nextHeartbeat time.Time
	onState       func(State)
}

// NewEngine builds an engine for one attachment.
func NewEngine(store SessionStore, media MediaController, cfg config.SyncConfig) *Engine {
	return &Engine{
		store: store,
		media: media,
		cfg:   cfg,
		l:     log.L(),
		now:   time.Now,
		state: StateIdle,
		guard: syncGuard{settleDelay: cfg.SettleDelay, echoWindow: cfg.EchoWindow},
	}
}

// OnStateChange registers a callback invoked on every state transition.
// Must be called before Attach.
func (e *Engine) OnStateChange(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = fn
}

// State reports the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Participants reports the last observed participant count.
func (e *Engine) Participants() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.participants
}

// Attach applies the initial session snapshot and arms the engine. A host
// alone in the session enters the waiting gate with playback held paused;
// everyone else goes straight to syncing.
func (e *Engine) Attach(session *domain.Session, isHost bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return
	}
	e.setStateLocked(StateAttaching)

	e.sessionID = session.ID
	e.isHost = isHost
	e.participants = session.Participants
	e.l = log.L().With().Str(log.FieldSessionID, session.ID).Logger()

	if err := e.media.SeekTo(session.PlaybackTime); err != nil {
		e.l.Warn().Err(err).Msg("initial seek failed")
	}

	e.nextHeartbeat = e.now().Add(e.cfg.TickInterval)

	if isHost && session.Participants <= 1 {
		e.forcePauseLocked()
		e.setStateLocked(StateWaitingForPeer)
		return
	}

	e.applyPlayStateLocked(session.IsPlaying)
	e.guard.open(e.now())
	e.setStateLocked(StateSyncing)
}

// Detach tears the attachment down: pending writes are dropped and no
// further commands reach the player. Terminal.
func (e *Engine) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDetached {
		return
	}
	e.pending = pendingWrite{}
	e.setStateLocked(StateDetached)
}

// NotifyLocal records a local player event (play, pause, seek). Events that
// are the echo of the engine's own corrective actions are discarded; real
// user intent is debounced and written out on a later Tick.
func (e *Engine) NotifyLocal(playbackTime float64, isPlaying bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateWaitingForPeer:
		// Playback is held paused until a peer arrives.
		if isPlaying {
			e.forcePauseLocked()
		}
		return
	case StateSyncing:
	default:
		return
	}

	if e.guard.settling(e.now()) {
		return
	}

	if e.pending.valid {
		// Coalesce into the staged write without pushing out its
		// deadline, so a rapid event stream still flushes within one
		// debounce window of the first event.
		e.pending.playbackTime = playbackTime
		e.pending.isPlaying = isPlaying
		return
	}

	e.pending = pendingWrite{
		playbackTime: playbackTime,
		isPlaying:    isPlaying,
		due:          e.now().Add(e.cfg.DebounceWindow),
		valid:        true,
	}
}

// HandleRemote reconciles one inbound session record against the player.
// Participant count is taken from every record unconditionally; playback
// reconciliation is subject to the sync guard. Safe under duplicate and
// out-of-order delivery: every decision compares the record against the
// player's ground truth, so reapplying a converged state is a no-op.
func (e *Engine) HandleRemote(session *domain.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateIdle || e.state == StateDetached || e.state == StateAttaching {
		return
	}

	e.participants = session.Participants

	if e.state == StateWaitingForPeer {
		if session.Participants <= 1 {
			return
		}
		// A peer arrived. Release the gate; do not force play, the
		// next user action decides.
		e.nextHeartbeat = e.now().Add(e.cfg.TickInterval)
		e.setStateLocked(StateSyncing)
	}

	now := e.now()
	if e.guard.suppressed(now) {
		return
	}

	acted := false

	if session.IsPlaying && e.media.Paused() {
		if err := e.media.Play(); err != nil {
			e.l.Warn().Err(err).Msg("play command failed")
		} else {
			acted = true
		}
	} else if !session.IsPlaying && !e.media.Paused() {
		if err := e.media.Pause(); err != nil {
			e.l.Warn().Err(err).Msg("pause command failed")
		} else {
			acted = true
		}
	}

	drift := e.media.CurrentTime() - session.PlaybackTime
	if math.Abs(drift) > e.cfg.DriftTolerance.Seconds() {
		if err := e.media.SeekTo(session.PlaybackTime); err != nil {
			e.l.Warn().Err(err).Msg("seek command failed")
		} else {
			e.l.Debug().Float64(log.FieldDrift, drift).Float64("target", session.PlaybackTime).Msg("drift corrected")
			acted = true
		}
	}

	if acted {
		e.guard.open(now)
	}
}

// Tick flushes the debounced outbound write when it is due, and otherwise
// emits a periodic heartbeat carrying the player's current position while
// playback runs, so peers and late joiners see the position advance without
// local events. Write failures are logged and retried on a later tick.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	if e.state != StateSyncing {
		e.mu.Unlock()
		return
	}
	now := e.now()
	l := e.l
	sessionID := e.sessionID

	var w pendingWrite
	fromPending := e.pending.valid && !now.Before(e.pending.due)
	switch {
	case fromPending:
		w = e.pending
	case e.pending.valid:
		// A staged write is not due yet; the heartbeat yields to it.
		e.mu.Unlock()
		return
	case e.guard.settling(now) || now.Before(e.nextHeartbeat) || e.media.Paused():
		e.mu.Unlock()
		return
	default:
		w = pendingWrite{playbackTime: e.media.CurrentTime(), isPlaying: !e.media.Paused(), valid: true}
	}
	e.nextHeartbeat = now.Add(e.cfg.TickInterval)
	e.guard.noteOutbound(now)
	e.mu.Unlock()

	if err := e.store.UpdatePlayback(ctx, sessionID, w.playbackTime, w.isPlaying); err != nil {
		l.Warn().Err(err).Msg("playback write failed, will retry")
		return
	}

	if !fromPending {
		return
	}
	e.mu.Lock()
	if e.pending == w {
		e.pending.valid = false
	}
	e.mu.Unlock()
}

// Run drives the engine from a feed until the context ends or the feed
// closes. It owns the tick cadence; HandleRemote and NotifyLocal remain
// callable from other goroutines.
func (e *Engine) Run(ctx context.Context, updates <-chan feed.Update) {
	flush := time.NewTicker(e.cfg.DebounceWindow)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Detach()
			return
		case u, ok := <-updates:
			if !ok {
				// Feed gone for good. Local playback continues
				// unsynced; the owner decides whether to
				// reattach.
				l := e.logger()
				l.Warn().Str(log.FieldEngineState, e.State().String()).Msg("update feed closed")
				e.Detach()
				return
			}
			if u.Deleted {
				l := e.logger()
				l.Info().Str("reason", u.Reason).Msg("session removed, detaching")
				e.Detach()
				return
			}
			e.HandleRemote(u.Session)
		case <-flush.C:
			e.Tick(ctx)
		}
	}
}

// logger snapshots the session-scoped logger. Attach swaps it under the
// mutex, so callers outside the lock go through here.
func (e *Engine) logger() zerolog.Logger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.l
}

func (e *Engine) forcePauseLocked() {
	if !e.media.Paused() {
		if err := e.media.Pause(); err != nil {
			e.l.Warn().Err(err).Msg("pause command failed")
		}
	}
}

func (e *Engine) applyPlayStateLocked(isPlaying bool) {
	if isPlaying && e.media.Paused() {
		if err := e.media.Play(); err != nil {
			e.l.Warn().Err(err).Msg("play command failed")
		}
	} else if !isPlaying && !e.media.Paused() {
		if err := e.media.Pause(); err != nil {
			e.l.Warn().Err(err).Msg("pause command failed")
		}
	}
}

func (e *Engine) setStateLocked(s State) {
	if e.state == s {
		return
	}
	e.state = s
	fn := e.onState
	if fn != nil {
		fn(s)
	}
}
