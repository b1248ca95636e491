package playback

import "time"

// syncGuard breaks the feedback loop between local playback events and
// remote sync commands. It is a pair of windows, both first-class protocol
// mechanisms, not incidental bookkeeping:
//
//   - settle window: after the engine issues a corrective play/pause/seek,
//     the player fires its own events for a short while. Local events inside
//     this window are the echo of our correction, not new user intent, and
//     inbound processing is held off until the correction settles.
//   - echo window: after an outbound write, the store broadcasts that write
//     back to us. Inbound records arriving inside this window are our own
//     echo and must not trigger a second correction.
type syncGuard struct {
	settleDelay time.Duration
	echoWindow  time.Duration

	settleUntil    time.Time
	lastOutboundAt time.Time
}

// open starts the settle window. Called when a corrective action was
// actually issued to the player.
func (g *syncGuard) open(now time.Time) {
	g.settleUntil = now.Add(g.settleDelay)
}

// settling reports whether a correction is still settling.
func (g *syncGuard) settling(now time.Time) bool {
	return now.Before(g.settleUntil)
}

// noteOutbound records the write timestamp, immediately before the write is
// issued.
func (g *syncGuard) noteOutbound(now time.Time) {
	g.lastOutboundAt = now
}

// echoing reports whether an inbound record could be the echo of our own
// recent write.
func (g *syncGuard) echoing(now time.Time) bool {
	return !g.lastOutboundAt.IsZero() && now.Sub(g.lastOutboundAt) < g.echoWindow
}

// suppressed reports whether inbound reconciliation should be skipped
// entirely.
func (g *syncGuard) suppressed(now time.Time) bool {
	return g.settling(now) || g.echoing(now)
}
