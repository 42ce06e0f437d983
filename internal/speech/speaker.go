package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"voicebridge/internal/metrics"
)

// TextSynthesizer is the synthesis dependency of the speaker queue.
type TextSynthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// AudioSink plays one synthesized clip to completion.
type AudioSink interface {
	Play(ctx context.Context, audio io.Reader) error
}

// AudioSinkFunc adapts a function to the AudioSink interface.
type AudioSinkFunc func(ctx context.Context, audio io.Reader) error

func (f AudioSinkFunc) Play(ctx context.Context, audio io.Reader) error { return f(ctx, audio) }

// SpeakerConfig configures the bot-reply speaker queue.
type SpeakerConfig struct {
	Synth   TextSynthesizer
	Sink    AudioSink
	Queue   int // pending utterance capacity; default 16
	OnStart func(text string)
	OnEnd   func(text string)
	OnError func(err error)
	Logger  *slog.Logger
}

// Speaker voices bot messages in arrival order: one worker synthesizes and
// plays each queued utterance to completion before taking the next, so
// replies never talk over each other. A full queue drops the newest
// utterance rather than blocking the delivery path.
type Speaker struct {
	cfg   SpeakerConfig
	queue chan string

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSpeaker(cfg SpeakerConfig) *Speaker {
	if cfg.Queue <= 0 {
		cfg.Queue = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Speaker{
		cfg:   cfg,
		queue: make(chan string, cfg.Queue),
	}
}

// Start launches the playback worker. Starting twice errors.
func (s *Speaker) Start(ctx context.Context) error {
	if s.cfg.Synth == nil {
		return fmt.Errorf("speaker requires a synthesizer")
	}
	if s.cfg.Sink == nil {
		return fmt.Errorf("speaker requires an audio sink")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("speaker already started")
	}
	s.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.worker(workerCtx)
	return nil
}

// Say enqueues a bot message for voicing. Never blocks; reports a dropped
// utterance through OnError when the queue is full.
func (s *Speaker) Say(text string) {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.queue <- text:
	default:
		s.cfg.Logger.Warn("speaker queue full, dropping utterance", "len", len(text))
		if s.cfg.OnError != nil {
			s.cfg.OnError(fmt.Errorf("speaker queue full"))
		}
	}
}

func (s *Speaker) worker(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.queue:
			s.speak(ctx, text)
		}
	}
}

func (s *Speaker) speak(ctx context.Context, text string) {
	start := time.Now()
	audio, err := s.cfg.Synth.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.SpeechErrors.Inc()
		s.cfg.Logger.Error("synthesis failed", "err", err)
		if s.cfg.OnError != nil {
			s.cfg.OnError(err)
		}
		return
	}
	metrics.SynthLatency.Observe(time.Since(start).Seconds())

	if s.cfg.OnStart != nil {
		s.cfg.OnStart(text)
	}
	err = s.cfg.Sink.Play(ctx, audio)
	audio.Close()
	if err != nil && ctx.Err() == nil {
		metrics.SpeechErrors.Inc()
		s.cfg.Logger.Error("playback failed", "err", err)
		if s.cfg.OnError != nil {
			s.cfg.OnError(err)
		}
	}
	if s.cfg.OnEnd != nil {
		s.cfg.OnEnd(text)
	}
}

// Stop cancels the worker, abandoning any queued utterances. Idempotent.
func (s *Speaker) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}
