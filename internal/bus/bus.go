// Package bus is the in-process event spine of the overlay: sources publish
// bot replies, the speech pipeline publishes transcripts and speaking state,
// and subscribers (speaker, wave, monitor) react.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Event kinds carried on the bus.
const (
	KindBotReply    = "bot.reply"    // Text = cleaned bot message
	KindTranscript  = "transcript"   // Text = finalized user utterance
	KindSpeechState = "speech.state" // Speaking flag toggles
	KindSourceError = "source.error" // Text = error description
)

// Event is one occurrence on the bus.
type Event struct {
	Kind      string    `json:"kind"`
	Source    string    `json:"source"` // "poll", "widget", "speech", ...
	Text      string    `json:"text,omitempty"`
	Speaking  bool      `json:"speaking,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler is a subscriber callback.
type Handler func(Event)

const publishTimeout = 10 * time.Second

// Bus fans events out to subscribers through a single buffered channel and a
// dispatch goroutine, so publishers never run subscriber code on their own
// goroutine. Publish blocks up to 10 seconds when the buffer is full instead
// of dropping.
type Bus struct {
	events chan Event
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool
}

func New(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		events:   make(chan Event, bufferSize),
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
	go b.dispatch()
	return b
}

// On registers a handler for the given event kind. Use "*" to receive all
// events. Handlers run on the dispatch goroutine, in registration order.
func (b *Bus) On(kind string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Publish puts an event on the bus. A zero timestamp is stamped with now.
// Blocks up to 10 seconds when the buffer is full, then drops with an error
// log.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	// RLock held across the send so Close cannot close the channel under us,
	// even during the full-buffer wait.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "kind", ev.Kind)
		return
	}

	select {
	case b.events <- ev:
	default:
		b.logger.Warn("event bus full, waiting...", "kind", ev.Kind, "source", ev.Source)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.events <- ev:
			b.logger.Info("event delivered after wait", "kind", ev.Kind)
		case <-timer.C:
			b.logger.Error("event dropped: bus full for 10s", "kind", ev.Kind, "source", ev.Source)
		}
	}
}

func (b *Bus) dispatch() {
	for ev := range b.events {
		b.mu.RLock()
		handlers := make([]Handler, 0, len(b.handlers[ev.Kind])+len(b.handlers["*"]))
		handlers = append(handlers, b.handlers[ev.Kind]...)
		handlers = append(handlers, b.handlers["*"]...)
		b.mu.RUnlock()

		for _, h := range handlers {
			b.run(ev, h)
		}
	}
}

func (b *Bus) run(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", "kind", ev.Kind, "panic", r)
		}
	}()
	h(ev)
}

// Close stops accepting events and ends dispatch once the buffer drains.
// Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.events)
}
