// Package feed delivers live session updates to a single viewer. It wraps a
// pub/sub subscription with automatic reconnection so a transient broker drop
// does not silently freeze the sync loop.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thetvman/couchsync/internal/domain"
	"github.com/thetvman/couchsync/pkg/log"
	"github.com/thetvman/couchsync/pkg/pubsub"
)

// Status describes the health of a feed subscription.
type Status int

const (
	// StatusConnected means updates are flowing.
	StatusConnected Status = iota
	// StatusReconnecting means the stream dropped and the subscriber is
	// retrying with backoff.
	StatusReconnecting
	// StatusDisconnected means the subscriber gave up or was stopped. The
	// update channel is closed in this state.
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Update is one decoded change from the session feed. Deleted updates carry
// no snapshot.
type Update struct {
	Session *domain.Session
	Deleted bool
	Reason  string
}

// Config controls the reconnect behavior.
type Config struct {
	// BackoffBase is the delay before the first reconnect attempt. Each
	// subsequent attempt doubles it, capped at BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxAttempts bounds consecutive failed reconnects before the
	// subscriber transitions to StatusDisconnected.
	MaxAttempts int
}

// ErrAlreadySubscribed is returned when Subscribe is called twice.
var ErrAlreadySubscribed = errors.New("feed: already subscribed")

// Subscriber follows the update feed for one session.
type Subscriber struct {
	bus pubsub.Subscriber
	cfg Config

	mu       sync.Mutex
	status   Status
	onStatus func(Status)
	cancel   context.CancelFunc
	started  bool

	out chan Update
}

// NewSubscriber builds a subscriber over the given pub/sub backend.
func NewSubscriber(bus pubsub.Subscriber, cfg Config) *Subscriber {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Subscriber{
		bus:    bus,
		cfg:    cfg,
		status: StatusDisconnected,
		out:    make(chan Update, 16),
	}
}

// OnStatusChange registers a callback invoked on every status transition.
// Must be called before Subscribe.
func (s *Subscriber) OnStatusChange(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = fn
}

// Status reports the current subscription status.
func (s *Subscriber) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe opens the feed for sessionID and returns the update channel. The
// channel is closed when the subscriber disconnects for good.
func (s *Subscriber) Subscribe(ctx context.Context, sessionID string) (<-chan Update, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	channel := pubsub.SessionUpdatesChannel(sessionID)
	sub, err := s.bus.Subscribe(runCtx, channel)
	if err != nil {
		cancel()
		s.setStatus(StatusDisconnected)
		close(s.out)
		return nil, err
	}
	s.setStatus(StatusConnected)

	go s.run(runCtx, sessionID, channel, sub)
	return s.out, nil
}

// Unsubscribe stops the feed. Safe to call more than once and before
// Subscribe.
func (s *Subscriber) Unsubscribe() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Subscriber) run(ctx context.Context, sessionID, channel string, sub pubsub.Subscription) {
	l := log.L().With().Str(log.FieldSessionID, sessionID).Logger()

	defer func() {
		_ = sub.Close()
		s.setStatus(StatusDisconnected)
		close(s.out)
	}()

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Stream dropped upstream. Try to reattach.
				_ = sub.Close()
				next := s.reconnect(ctx, channel, &l)
				if next == nil {
					return
				}
				sub = next
				events = sub.Events()
				continue
			}
			s.deliver(ctx, ev, &l)
		}
	}
}

// reconnect retries the subscription with exponential backoff. Returns nil
// when the attempt budget is exhausted or the context ends.
func (s *Subscriber) reconnect(ctx context.Context, channel string, l *zerolog.Logger) pubsub.Subscription {
	s.setStatus(StatusReconnecting)

	delay := s.cfg.BackoffBase
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		sub, err := s.bus.Subscribe(ctx, channel)
		if err == nil {
			l.Info().Int("attempt", attempt).Str(log.FieldFeedStatus, StatusConnected.String()).Msg("feed reattached")
			s.setStatus(StatusConnected)
			return sub
		}
		l.Warn().Err(err).Int("attempt", attempt).Dur("next_delay", delay).Msg("feed reconnect failed")

		delay *= 2
		if delay > s.cfg.BackoffMax {
			delay = s.cfg.BackoffMax
		}
	}

	l.Error().Int("attempts", s.cfg.MaxAttempts).Msg("feed reconnect budget exhausted")
	return nil
}

func (s *Subscriber) deliver(ctx context.Context, ev *pubsub.Event, l *zerolog.Logger) {
	var update Update
	switch ev.Type {
	case pubsub.EventSessionUpdated:
		var payload pubsub.SessionUpdatePayload
		if err := ev.UnmarshalPayload(&payload); err != nil {
			l.Warn().Err(err).Msg("dropping malformed session update")
			return
		}
		update.Session = sessionFromPayload(&payload)
	case pubsub.EventSessionDeleted:
		var payload pubsub.SessionDeletedPayload
		if err := ev.UnmarshalPayload(&payload); err != nil {
			l.Warn().Err(err).Msg("dropping malformed session delete")
			return
		}
		update.Deleted = true
		update.Reason = payload.Reason
	default:
		return
	}

	select {
	case s.out <- update:
	case <-ctx.Done():
	}
}

func sessionFromPayload(p *pubsub.SessionUpdatePayload) *domain.Session {
	return &domain.Session{
		ID:           p.ID,
		Code:         p.Code,
		VideoType:    domain.VideoType(p.VideoType),
		VideoID:      p.VideoID,
		Title:        p.Title,
		StreamURL:    p.StreamURL,
		PlaybackTime: p.PlaybackTime,
		IsPlaying:    p.IsPlaying,
		Participants: p.Participants,
	}
}

func (s *Subscriber) setStatus(status Status) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	fn := s.onStatus
	s.mu.Unlock()
	if changed && fn != nil {
		fn(status)
	}
}
