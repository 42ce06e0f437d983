// Package source implements the two bot-message acquisition strategies: a
// REST polling loop against the conversation endpoint, and a widget watcher
// that stabilizes streamed text before delivery. Both are independent,
// mutually substitutable MessageSource implementations feeding the same
// delivery callback.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voicebridge/internal/directline"
	"voicebridge/internal/domain"
	"voicebridge/internal/metrics"
)

// ActivityFetcher is the slice of the directline client the poller needs.
type ActivityFetcher interface {
	FetchActivities(ctx context.Context, conversationID, token string) (*directline.ActivitySet, error)
}

// PollerConfig configures the polling source.
type PollerConfig struct {
	Fetcher        ActivityFetcher
	ConversationID string
	Token          string
	Interval       time.Duration // default 2s
	Selector       *directline.Selector
	Deliver        func(msg domain.BotMessage)
	OnError        func(err error) // optional; fetch failures, loop continues
	Logger         *slog.Logger
}

// Poller periodically refetches the full activity log, reselects the current
// bot message, and delivers it downstream when it is logically new. The tick
// body runs inline in the loop goroutine, so a fetch in flight always blocks
// the next fetch for this source and dedup state is never touched by two
// ticks at once.
type Poller struct {
	cfg PollerConfig

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	dedup   domain.DedupState
	lastErr error
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Selector == nil {
		cfg.Selector = directline.NewSelector(nil, nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{cfg: cfg}
}

func (p *Poller) Name() string { return "poll" }

// Start validates credentials and launches the polling loop. Missing
// credentials fail fast: the loop is never started. Starting twice errors.
func (p *Poller) Start(ctx context.Context) error {
	if strings.TrimSpace(p.cfg.ConversationID) == "" || strings.TrimSpace(p.cfg.Token) == "" {
		return domain.ErrInvalidCredentials
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("polling source already started")
	}
	p.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx)
	p.cfg.Logger.Info("polling started", "conversation", p.cfg.ConversationID, "interval", p.cfg.Interval)
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick fetches the full log and delivers the selected bot message when new.
// Failures are recorded and reported but never stop the loop: transient
// network errors are expected, the next interval retries.
func (p *Poller) tick(ctx context.Context) {
	set, err := p.cfg.Fetcher.FetchActivities(ctx, p.cfg.ConversationID, p.cfg.Token)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.FetchErrors.Inc()
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		p.cfg.Logger.Warn("activity fetch failed", "err", err)
		if p.cfg.OnError != nil {
			p.cfg.OnError(err)
		}
		return
	}

	msg, ok := p.cfg.Selector.Latest(set.Activities)
	if !ok {
		return
	}

	p.mu.Lock()
	if p.stopped || !p.dedup.IsNew(msg.ID, msg.Text) {
		p.mu.Unlock()
		return
	}
	// Dedup fields update before the callback runs, so a re-poll mid-callback
	// cannot re-deliver the same message.
	p.dedup.MarkDelivered(msg.ID, msg.Text)
	p.lastErr = nil
	p.mu.Unlock()

	metrics.DeliveriesPoll.Inc()
	p.cfg.Logger.Debug("bot message delivered", "id", msg.ID, "len", len(msg.Text))
	if p.cfg.Deliver != nil {
		p.cfg.Deliver(msg)
	}
}

// Stop cancels the loop and waits for the in-flight tick to finish, so no
// delivery callback runs after it returns. Idempotent; stopping a
// never-started poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.cfg.Logger.Info("polling stopped")
}

// LastError exposes the most recent fetch failure for observability. Cleared
// by the next successful delivery.
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}
