package speech

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"voicebridge/internal/metrics"
)

// FinalizerConfig configures the transcript finalizer.
type FinalizerConfig struct {
	Silence time.Duration // quiet time after the last interim before commit; default 1.2s
	OnFinal func(text string)
	Logger  *slog.Logger
}

// Finalizer turns a stream of interim recognition results into committed
// utterances. Each Push restarts a silence timer; when the user stops
// producing interims for the silence duration, the latest text is committed
// through OnFinal. A committed utterance clears the buffer so the next
// interim starts a fresh one.
type Finalizer struct {
	cfg FinalizerConfig

	mu      sync.Mutex
	current string
	timer   *time.Timer
	stopped bool
}

func NewFinalizer(cfg FinalizerConfig) *Finalizer {
	if cfg.Silence <= 0 {
		cfg.Silence = 1200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Finalizer{cfg: cfg}
}

// Push records an interim recognition result and restarts the silence timer.
// Empty interims are ignored and do not restart the timer.
func (f *Finalizer) Push(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.current = text
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.cfg.Silence, f.onSilence)
}

// Commit finalizes the buffered text immediately, without waiting out the
// silence window. Used when the recognizer reports an explicit final result.
func (f *Finalizer) Commit(text string) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	if text = strings.TrimSpace(text); text != "" {
		f.current = text
	}
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()
	f.onSilence()
}

func (f *Finalizer) onSilence() {
	f.mu.Lock()
	if f.stopped || f.current == "" {
		f.mu.Unlock()
		return
	}
	text := f.current
	f.current = ""
	f.timer = nil
	f.mu.Unlock()

	metrics.TranscriptsTotal.Inc()
	f.cfg.Logger.Debug("transcript finalized", "len", len(text))
	if f.cfg.OnFinal != nil {
		f.cfg.OnFinal(text)
	}
}

// Stop cancels any pending commit. Idempotent.
func (f *Finalizer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.current = ""
}
