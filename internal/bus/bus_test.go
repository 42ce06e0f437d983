package bus

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func collect() (*sync.Mutex, *[]Event, Handler) {
	var mu sync.Mutex
	var events []Event
	return &mu, &events, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
}

func await(t *testing.T, mu *sync.Mutex, events *[]Event, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		if len(*events) >= n {
			out := append([]Event(nil), *events...)
			mu.Unlock()
			return out
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	t.Fatalf("timed out waiting for %d events, have %v", n, *events)
	return nil
}

func TestBus_DispatchesByKind(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	repliesMu, replies, onReply := collect()
	allMu, all, onAll := collect()
	b.On(KindBotReply, onReply)
	b.On("*", onAll)

	b.Publish(Event{Kind: KindBotReply, Source: "poll", Text: "hello"})
	b.Publish(Event{Kind: KindTranscript, Source: "speech", Text: "hi"})

	got := await(t, repliesMu, replies, 1)
	if got[0].Text != "hello" || got[0].Timestamp.IsZero() {
		t.Fatalf("unexpected reply event: %+v", got[0])
	}
	if gotAll := await(t, allMu, all, 2); gotAll[1].Kind != KindTranscript {
		t.Fatalf("wildcard handler missed events: %+v", gotAll)
	}

	repliesMu.Lock()
	n := len(*replies)
	repliesMu.Unlock()
	if n != 1 {
		t.Fatalf("kind handler must only see its kind, got %d events", n)
	}
}

func TestBus_HandlerPanicDoesNotKillDispatch(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	b.On(KindBotReply, func(Event) { panic("boom") })
	mu, events, on := collect()
	b.On(KindBotReply, on)

	b.Publish(Event{Kind: KindBotReply, Text: "survives"})
	got := await(t, mu, events, 1)
	if got[0].Text != "survives" {
		t.Fatalf("dispatch must outlive a panicking handler, got %+v", got)
	}
}

func TestBus_PublishAfterCloseIsNoop(t *testing.T) {
	b := New(10, testLogger())
	b.Close()
	b.Close() // idempotent
	b.Publish(Event{Kind: KindBotReply, Text: "dropped"})
}

func TestBus_FullBufferDeliversAfterWait(t *testing.T) {
	b := New(1, testLogger())
	defer b.Close()

	release := make(chan struct{})
	mu, events, on := collect()
	b.On(KindBotReply, func(ev Event) {
		<-release // holds dispatch so publishes pile up
		on(ev)
	})

	published := make(chan struct{})
	go func() {
		// With dispatch held, one event occupies the handler, one fills the
		// buffer, and the third takes the full-buffer wait path.
		for i := 0; i < 3; i++ {
			b.Publish(Event{Kind: KindBotReply, Text: string(rune('a' + i))})
		}
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("third publish should block on the full buffer")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish never completed after dispatch resumed")
	}

	got := await(t, mu, events, 3)
	for i := 0; i < 3; i++ {
		if got[i].Text != string(rune('a'+i)) {
			t.Fatalf("events out of order at %d: %+v", i, got)
		}
	}
}

func TestBus_OrderPreserved(t *testing.T) {
	b := New(100, testLogger())
	defer b.Close()

	mu, events, on := collect()
	b.On(KindTranscript, on)
	for i := 0; i < 20; i++ {
		b.Publish(Event{Kind: KindTranscript, Text: string(rune('a' + i))})
	}

	got := await(t, mu, events, 20)
	for i := 0; i < 20; i++ {
		if got[i].Text != string(rune('a'+i)) {
			t.Fatalf("events out of order at %d: %+v", i, got)
		}
	}
}
