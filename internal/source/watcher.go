package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voicebridge/internal/domain"
	"voicebridge/internal/metrics"
)

// WatcherConfig configures the widget-observation source.
type WatcherConfig struct {
	Extractor      domain.TextExtractor
	Interval       time.Duration // periodic fallback check; default 1.5s
	Window         time.Duration // stabilization window; default 800ms
	MinLength      int
	RedeliverAfter time.Duration
	Deliver        func(text string)
	OnError        func(err error)
	RetryInitial   time.Duration // backoff while the container is absent; default 500ms
	RetryMax       time.Duration // default 10s
	Logger         *slog.Logger
}

// Watcher observes the chat-widget subtree through a pluggable extractor and
// feeds snapshots through the stabilization state machine. The widget
// container may not exist at start time; the watcher retries with backoff
// until it appears. Observation failures are never fatal.
//
// Push-based mutation notifications arrive through Notify; the periodic
// extract loop is the safety net against missed notifications.
type Watcher struct {
	cfg  WatcherConfig
	stab *Stabilizer

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 1500 * time.Millisecond
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Watcher{cfg: cfg}
	w.stab = NewStabilizer(StabilizerConfig{
		Window:         cfg.Window,
		MinLength:      cfg.MinLength,
		RedeliverAfter: cfg.RedeliverAfter,
		Deliver: func(text string) {
			metrics.DeliveriesWidget.Inc()
			if cfg.Deliver != nil {
				cfg.Deliver(text)
			}
		},
		Refresh: w.refresh,
		Logger:  cfg.Logger,
	})
	return w
}

func (w *Watcher) Name() string { return "widget" }

// Start launches the observation loop. Starting twice errors.
func (w *Watcher) Start(ctx context.Context) error {
	if w.cfg.Extractor == nil {
		return fmt.Errorf("widget source requires a text extractor")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("widget source already started")
	}
	w.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.loop(loopCtx)
	w.cfg.Logger.Info("widget watcher started", "interval", w.cfg.Interval)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	if !w.awaitContainer(ctx) {
		return
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// awaitContainer polls the extractor until the widget subtree exists,
// doubling the delay up to RetryMax. Returns false only on cancellation.
func (w *Watcher) awaitContainer(ctx context.Context) bool {
	delay := w.cfg.RetryInitial
	for {
		_, err := w.cfg.Extractor.Extract(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		var obsErr *domain.ObservationError
		if errors.As(err, &obsErr) {
			w.cfg.Logger.Debug("widget container not present yet", "retry_in", delay)
		} else {
			w.cfg.Logger.Warn("widget extraction failed, retrying", "err", err, "retry_in", delay)
		}
		if w.cfg.OnError != nil {
			w.cfg.OnError(err)
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if delay *= 2; delay > w.cfg.RetryMax {
			delay = w.cfg.RetryMax
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	snap, err := w.cfg.Extractor.Extract(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.cfg.Logger.Warn("widget check failed", "err", err)
		if w.cfg.OnError != nil {
			w.cfg.OnError(err)
		}
		return
	}
	w.stab.Observe(snap)
}

// Notify injects a push-based observation (a mutation batch from the host,
// or a synthetic snapshot in tests) without waiting for the fallback tick.
func (w *Watcher) Notify(snap domain.Snapshot) {
	w.stab.Observe(snap)
}

// refresh backs the stabilization window's immediate re-check with a fresh
// extraction; when that fails the last observed text stands.
func (w *Watcher) refresh() domain.Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := w.cfg.Extractor.Extract(ctx)
	if err != nil {
		w.stab.mu.Lock()
		last := w.stab.lastSeen
		w.stab.mu.Unlock()
		return domain.Snapshot{Text: last}
	}
	return snap
}

// Stop cancels the loop and the stabilization timer; no delivery callback
// runs after it returns. Idempotent; stop before start is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	w.stab.Stop()
	cancel()
	<-done
	w.cfg.Logger.Info("widget watcher stopped")
}
