// Package wave renders an animated waveform in the terminal: layered
// sinusoids whose amplitude and speed follow the speech state, giving the
// operator a visual cue while the overlay is listening or speaking.
package wave

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config configures the renderer.
type Config struct {
	Out      io.Writer     // default os.Stdout
	Width    int           // columns; default 48
	Layers   int           // overlaid sinusoids; default 3
	Interval time.Duration // repaint period; default 80ms
}

// Renderer animates the waveform on a ticker. SetActive switches between the
// low idle ripple and the tall fast active wave.
type Renderer struct {
	out      io.Writer
	width    int
	layers   int
	interval time.Duration

	active atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

func NewRenderer(cfg Config) *Renderer {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Width <= 0 {
		cfg.Width = 48
	}
	if cfg.Layers <= 0 {
		cfg.Layers = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 80 * time.Millisecond
	}
	return &Renderer{
		out:      cfg.Out,
		width:    cfg.Width,
		layers:   cfg.Layers,
		interval: cfg.Interval,
	}
}

// SetActive switches the wave between idle and active rendering.
func (r *Renderer) SetActive(active bool) {
	r.active.Store(active)
}

// Start launches the repaint loop. Idempotent.
func (r *Renderer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop()
}

func (r *Renderer) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var phase float64
	for {
		select {
		case <-r.stop:
			fmt.Fprint(r.out, "\r\033[K")
			return
		case <-ticker.C:
			fmt.Fprintf(r.out, "\r%s", r.frame(phase))
			step := 0.25
			if r.active.Load() {
				step = 0.7
			}
			phase += step
		}
	}
}

// frame builds one line of the wave: each column samples the layered
// sinusoids and maps the combined height onto block glyphs.
func (r *Renderer) frame(phase float64) string {
	glyphs := []rune("▁▂▃▄▅▆▇█")
	amp := 0.25
	if r.active.Load() {
		amp = 1.0
	}

	var sb strings.Builder
	for x := 0; x < r.width; x++ {
		var v float64
		for layer := 1; layer <= r.layers; layer++ {
			freq := 0.15 * float64(layer)
			v += math.Sin(float64(x)*freq + phase*float64(layer))
		}
		v = v / float64(r.layers) // [-1, 1]
		h := (v + 1) / 2 * amp    // [0, amp]
		idx := int(h * float64(len(glyphs)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(glyphs) {
			idx = len(glyphs) - 1
		}
		sb.WriteRune(glyphs[idx])
	}
	return sb.String()
}

// Stop ends the repaint loop and clears the wave line. Idempotent; stop
// before start is a no-op.
func (r *Renderer) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	stop := r.stop
	done := r.done
	r.mu.Unlock()

	close(stop)
	<-done
}
