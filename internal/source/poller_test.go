package source

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voicebridge/internal/directline"
	"voicebridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeFetcher scripts FetchActivities responses; after the script runs out
// the last entry repeats.
type fakeFetcher struct {
	mu     sync.Mutex
	script []fetchResult
	calls  int
}

type fetchResult struct {
	set *directline.ActivitySet
	err error
}

func (f *fakeFetcher) FetchActivities(ctx context.Context, conversationID, token string) (*directline.ActivitySet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	r := f.script[i]
	return r.set, r.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func botActivity(id, text string) domain.Activity {
	return domain.Activity{ID: id, Type: "message", Text: text, From: domain.Actor{Role: "bot"}}
}

func TestPoller_DeliversOnlyNewMessages(t *testing.T) {
	log1 := &directline.ActivitySet{Activities: []domain.Activity{botActivity("1|0", "hello")}}
	log2 := &directline.ActivitySet{Activities: []domain.Activity{
		botActivity("1|0", "hello"),
		botActivity("1|2", "and again"),
	}}
	fetcher := &fakeFetcher{script: []fetchResult{{set: log1}, {set: log1}, {set: log2}, {set: log2}}}

	var mu sync.Mutex
	var delivered []string
	p := NewPoller(PollerConfig{
		Fetcher:        fetcher,
		ConversationID: "conv",
		Token:          "tok",
		Interval:       10 * time.Millisecond,
		Deliver: func(msg domain.BotMessage) {
			mu.Lock()
			delivered = append(delivered, msg.Text)
			mu.Unlock()
		},
		Logger: testLogger(),
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 2 {
		t.Fatalf("expected exactly 2 deliveries, got %v", delivered)
	}
	if delivered[0] != "hello" || delivered[1] != "and again" {
		t.Fatalf("unexpected deliveries: %v", delivered)
	}
}

func TestPoller_FetchFailureKeepsLoopRunning(t *testing.T) {
	remoteErr := &domain.RemoteError{Status: 401, Reason: "unauthorized: invalid or expired token"}
	ok := &directline.ActivitySet{Activities: []domain.Activity{botActivity("1|0", "recovered")}}
	fetcher := &fakeFetcher{script: []fetchResult{{err: remoteErr}, {err: remoteErr}, {set: ok}}}

	var errCount atomic.Int32
	deliveredCh := make(chan string, 1)
	p := NewPoller(PollerConfig{
		Fetcher:        fetcher,
		ConversationID: "conv",
		Token:          "tok",
		Interval:       10 * time.Millisecond,
		Deliver:        func(msg domain.BotMessage) { deliveredCh <- msg.Text },
		OnError:        func(err error) { errCount.Add(1) },
		Logger:         testLogger(),
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	// First tick fails with 401; LastError surfaces it while the loop keeps
	// retrying on the interval.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && errCount.Load() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	lastErr := p.LastError()
	var remote *domain.RemoteError
	if !errors.As(lastErr, &remote) || remote.Status != 401 {
		t.Fatalf("LastError = %v, want the 401 RemoteError", lastErr)
	}

	select {
	case text := <-deliveredCh:
		if text != "recovered" {
			t.Fatalf("delivered %q after recovery", text)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not retry and deliver after fetch failures")
	}
	if fetcher.callCount() < 3 {
		t.Fatalf("expected at least 3 fetch attempts, got %d", fetcher.callCount())
	}
	if p.LastError() != nil {
		t.Fatalf("LastError should clear after a successful delivery, got %v", p.LastError())
	}
}

func TestPoller_InvalidCredentialsFailFast(t *testing.T) {
	fetcher := &fakeFetcher{script: []fetchResult{{set: &directline.ActivitySet{}}}}
	p := NewPoller(PollerConfig{
		Fetcher:        fetcher,
		ConversationID: "",
		Token:          "tok",
		Logger:         testLogger(),
	})
	if err := p.Start(context.Background()); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if fetcher.callCount() != 0 {
		t.Fatal("loop must not start with missing credentials")
	}
}

func TestPoller_StartTwiceErrors(t *testing.T) {
	fetcher := &fakeFetcher{script: []fetchResult{{set: &directline.ActivitySet{}}}}
	p := NewPoller(PollerConfig{
		Fetcher:        fetcher,
		ConversationID: "conv",
		Token:          "tok",
		Interval:       time.Hour,
		Logger:         testLogger(),
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer p.Stop()
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("second start must error")
	}
}

func TestPoller_StopBeforeStartIsNoop(t *testing.T) {
	p := NewPoller(PollerConfig{
		Fetcher:        &fakeFetcher{script: []fetchResult{{set: &directline.ActivitySet{}}}},
		ConversationID: "conv",
		Token:          "tok",
		Logger:         testLogger(),
	})
	p.Stop() // must not panic or block
	p.Stop()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start after no-op stops: %v", err)
	}
	p.Stop()
	p.Stop() // idempotent after a real stop too
}
