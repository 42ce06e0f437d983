package wave

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer serializes writes from the render goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRenderer_PaintsFrames(t *testing.T) {
	out := &syncBuffer{}
	r := NewRenderer(Config{Out: out, Width: 16, Interval: 5 * time.Millisecond})

	r.Start()
	r.Start() // idempotent
	r.SetActive(true)
	time.Sleep(50 * time.Millisecond)
	r.Stop()
	r.Stop() // idempotent

	got := out.String()
	if !strings.Contains(got, "\r") {
		t.Fatal("expected carriage-return repaints")
	}
	if !strings.ContainsAny(got, "▁▂▃▄▅▆▇█") {
		t.Fatalf("expected wave glyphs in output, got %q", got)
	}
}

func TestRenderer_StopBeforeStartIsNoop(t *testing.T) {
	r := NewRenderer(Config{Out: &syncBuffer{}})
	r.Stop() // must not panic or block
}

func TestRenderer_FrameHeightFollowsActive(t *testing.T) {
	r := NewRenderer(Config{Out: &syncBuffer{}, Width: 32})

	idle := r.frame(1.0)
	r.SetActive(true)
	active := r.frame(1.0)

	// Active amplitude reaches glyphs the idle ripple never uses.
	if strings.ContainsAny(idle, "▅▆▇█") {
		t.Fatalf("idle frame too tall: %q", idle)
	}
	if !strings.ContainsAny(active, "▅▆▇█") {
		t.Fatalf("active frame should reach tall glyphs: %q", active)
	}
}
