package source

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"voicebridge/internal/domain"
	"voicebridge/internal/metrics"
)

// StabilizerConfig configures the stabilization state machine.
type StabilizerConfig struct {
	Window         time.Duration // delay after the last observed growth; default 800ms
	MinLength      int           // minimum text length to consider; default 5
	RedeliverAfter time.Duration // identical text may re-deliver after this; default 5s
	Deliver        func(text string)
	// Refresh re-extracts the current snapshot when the window timer fires.
	// When nil, the timer re-checks the last observed text.
	Refresh func() domain.Snapshot
	Logger  *slog.Logger
}

// Stabilizer decides when streamed/typed-out bot text is final. The widget
// renders responses incrementally and offers no "message complete" event, so
// a fixed delay after the last observed growth is the only signal available.
// The heuristic can mis-fire on slow networks or rapid multi-paragraph
// bursts; that is an accepted limitation of the strategy, not a defect.
//
// States: idle, growing (window timer armed), pending-confirm (timer fired,
// re-check runs in immediate mode). A pending timer and a "now stable"
// decision are mutually exclusive: restarting the window clears any prior
// decision, and delivering cancels the pending timer.
type Stabilizer struct {
	cfg StabilizerConfig

	mu              sync.Mutex
	lastSeen        string
	stableCount     int
	timer           *time.Timer
	timerGen        int
	timerWG         sync.WaitGroup
	lastDelivered   string
	lastDeliveredAt time.Time
	stopped         bool
}

func NewStabilizer(cfg StabilizerConfig) *Stabilizer {
	if cfg.Window <= 0 {
		cfg.Window = 800 * time.Millisecond
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = 5
	}
	if cfg.RedeliverAfter <= 0 {
		cfg.RedeliverAfter = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Stabilizer{cfg: cfg}
}

// Observe feeds one widget snapshot through the state machine. Called from
// mutation notifications and from the periodic fallback check.
func (s *Stabilizer) Observe(snap domain.Snapshot) {
	s.observe(snap, false)
}

func (s *Stabilizer) observe(snap domain.Snapshot, immediate bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	// A visible typing indicator means the reply is still being generated;
	// skip processing unless this is the post-window immediate re-check.
	if snap.Typing && !immediate {
		s.mu.Unlock()
		return
	}

	text := snap.Text
	if text != s.lastSeen {
		// Streamed output still in progress: remember the newer text and
		// restart the window from zero. No cap on restarts.
		s.lastSeen = text
		s.stableCount = 0
		s.armWindowLocked()
		metrics.WindowResets.Inc()
		s.mu.Unlock()
		return
	}

	if len(strings.TrimSpace(text)) <= s.cfg.MinLength {
		s.mu.Unlock()
		return
	}

	s.stableCount++
	if s.stableCount < 1 && !immediate {
		s.mu.Unlock()
		return
	}

	if text == s.lastDelivered && time.Since(s.lastDeliveredAt) <= s.cfg.RedeliverAfter {
		s.mu.Unlock()
		return
	}

	cleaned := domain.CleanText(text)
	if len(cleaned) <= s.cfg.MinLength {
		s.mu.Unlock()
		return
	}

	s.lastDelivered = text
	s.lastDeliveredAt = time.Now()
	s.stableCount = 0
	s.cancelWindowLocked()
	deliver := s.cfg.Deliver
	s.mu.Unlock()

	s.cfg.Logger.Debug("stable bot text delivered", "len", len(cleaned), "immediate", immediate)
	if deliver != nil {
		deliver(cleaned)
	}
}

// armWindowLocked replaces any pending timer with a fresh window. Each arming
// adds to timerWG; the matching Done runs either in cancelWindowLocked (timer
// stopped before firing) or in onWindowElapsed (timer fired).
func (s *Stabilizer) armWindowLocked() {
	s.cancelWindowLocked()
	s.timerGen++
	gen := s.timerGen
	s.timerWG.Add(1)
	s.timer = time.AfterFunc(s.cfg.Window, func() { s.onWindowElapsed(gen) })
}

func (s *Stabilizer) cancelWindowLocked() {
	if s.timer == nil {
		return
	}
	if s.timer.Stop() {
		s.timerWG.Done()
	}
	s.timer = nil
}

// onWindowElapsed runs when no further growth arrived within the window: the
// text is presumed final, so re-check in immediate mode (bypassing the
// typing guard). A stale generation means a newer window superseded this one
// between firing and acquiring the lock.
func (s *Stabilizer) onWindowElapsed(gen int) {
	defer s.timerWG.Done()

	s.mu.Lock()
	if s.stopped || gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	snap := domain.Snapshot{Text: s.lastSeen}
	s.mu.Unlock()

	if s.cfg.Refresh != nil {
		snap = s.cfg.Refresh()
	}
	s.observe(snap, true)
}

// Stop cancels any pending window timer, prevents further deliveries, and
// waits out a window callback already in flight, so no delivery runs after
// it returns. Idempotent. Must not be called from inside Deliver.
func (s *Stabilizer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancelWindowLocked()
	s.mu.Unlock()

	s.timerWG.Wait()
}
