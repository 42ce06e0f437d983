// Package browser drives the vendor chat widget through headless Chrome.
// It implements the widget side of message acquisition: extracting the
// latest bot-message text from the widget subtree and typing user messages
// (voice transcripts) into the widget input.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"voicebridge/internal/domain"
)

// WidgetBridge manages one headless Chrome session pointed at the chat page.
type WidgetBridge struct {
	profileDir string
	headless   bool
	sel        SelectorSet
	logger     *slog.Logger

	mu       sync.Mutex
	taskCtx  context.Context
	cancel   context.CancelFunc
	attached bool
}

type BridgeConfig struct {
	ProfileDir string // Chrome user data directory (persists widget session cookies)
	Headless   bool
	Selectors  SelectorSet
	Logger     *slog.Logger
}

func NewWidgetBridge(cfg BridgeConfig) *WidgetBridge {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".voicebridge", "chrome-profiles", "default")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WidgetBridge{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		sel:        cfg.Selectors,
		logger:     cfg.Logger,
	}
}

func (b *WidgetBridge) allocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
	)
	if headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// Attach opens the chat page and keeps the tab alive for the lifetime of the
// bridge. The widget container may not exist yet when this returns; callers
// poll Extract until it does.
func (b *WidgetBridge) Attach(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attached {
		return fmt.Errorf("widget bridge already attached")
	}

	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		b.logger.Error("cannot create profile dir", "dir", b.profileDir, "err", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.allocatorOptions(b.headless)...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(b.sel.URL),
		chromedp.WaitReady("body"),
	); err != nil {
		taskCancel()
		allocCancel()
		return fmt.Errorf("open chat page: %w", err)
	}

	b.taskCtx = taskCtx
	b.cancel = func() {
		taskCancel()
		allocCancel()
	}
	b.attached = true
	b.logger.Info("attached to chat page", "url", b.sel.URL)
	return nil
}

// Detach closes the Chrome session. Idempotent.
func (b *WidgetBridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return
	}
	b.attached = false
	b.cancel()
	b.taskCtx = nil
	b.logger.Info("detached from chat page")
}

// widgetSnapshot mirrors the object returned by the extraction script.
type widgetSnapshot struct {
	Text    string `json:"text"`
	Typing  bool   `json:"typing"`
	Missing bool   `json:"missing"`
}

// Extract implements domain.TextExtractor: it evaluates the heuristic
// classifier inside the page and returns the best-guess latest bot-message
// text plus typing-indicator visibility.
//
// The classifier is deliberately permissive: a node counts as bot-authored
// unless a user/sender marker proves otherwise. Left-aligned, unmarked text
// is assumed to be the bot speaking.
func (b *WidgetBridge) Extract(ctx context.Context) (domain.Snapshot, error) {
	b.mu.Lock()
	taskCtx := b.taskCtx
	attached := b.attached
	b.mu.Unlock()
	if !attached {
		return domain.Snapshot{}, fmt.Errorf("widget bridge not attached")
	}

	runCtx, cancel := context.WithTimeout(taskCtx, 5*time.Second)
	defer cancel()
	// Honor the caller's deadline too.
	if dl, ok := ctx.Deadline(); ok {
		var c2 context.CancelFunc
		runCtx, c2 = context.WithDeadline(runCtx, dl)
		defer c2()
	}

	var snap widgetSnapshot
	if err := chromedp.Run(runCtx, chromedp.Evaluate(b.extractScript(), &snap)); err != nil {
		return domain.Snapshot{}, &domain.ObservationError{Target: b.sel.Container, Err: err}
	}
	if snap.Missing {
		return domain.Snapshot{}, &domain.ObservationError{Target: b.sel.Container}
	}
	return domain.Snapshot{Text: snap.Text, Typing: snap.Typing}, nil
}

func (b *WidgetBridge) extractScript() string {
	return fmt.Sprintf(`
		(function() {
			var root = document.querySelector(%q);
			if (!root) return {text: '', typing: false, missing: true};

			var typing = false;
			var ind = root.querySelector(%q);
			if (ind && ind.offsetParent !== null) typing = true;

			var skip = ['typing...', 'typing…', 'loading...', 'thinking...', '...'];
			var nodes = root.querySelectorAll(%q);
			for (var i = nodes.length - 1; i >= 0; i--) {
				var el = nodes[i];
				var cls = ((el.className || '') + ' ' + ((el.parentElement && el.parentElement.className) || '')).toLowerCase();
				if (/user|sender|outgoing|right/.test(cls)) continue;
				var align = (window.getComputedStyle(el).textAlign || '').toLowerCase();
				if (align === 'right' || align === 'end') continue;
				var txt = (el.innerText || el.textContent || '').trim();
				if (txt.length < 5) continue;
				if (skip.indexOf(txt.toLowerCase()) >= 0) continue;
				return {text: txt, typing: typing, missing: false};
			}
			return {text: '', typing: typing, missing: false};
		})()`,
		b.sel.Container, b.sel.Typing, b.sel.Response)
}

// SendMessage types a user message (typically a finalized voice transcript)
// into the widget input and submits it.
func (b *WidgetBridge) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	b.mu.Lock()
	taskCtx := b.taskCtx
	attached := b.attached
	b.mu.Unlock()
	if !attached {
		return fmt.Errorf("widget bridge not attached")
	}

	runCtx, cancel := context.WithTimeout(taskCtx, 15*time.Second)
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.WaitVisible(b.sel.Input, chromedp.ByQuery),
		chromedp.Click(b.sel.Input, chromedp.ByQuery),
		chromedp.SendKeys(b.sel.Input, text, chromedp.ByQuery),
		chromedp.Click(b.sel.Submit, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("send message to widget: %w", err)
	}
	b.logger.Debug("user message sent to widget", "len", len(text))
	return nil
}

// Login opens a visible browser so the user can establish a widget session
// manually; cookies persist in the profile directory.
func (b *WidgetBridge) Login(ctx context.Context) error {
	b.logger.Info("opening browser for widget login", "url", b.sel.URL)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.allocatorOptions(false)...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(b.sel.URL)); err != nil {
		return fmt.Errorf("navigate to chat page: %w", err)
	}

	b.logger.Info("browser opened. Log in, then press Ctrl+C when done.")
	<-ctx.Done()
	b.logger.Info("login session saved", "profile", b.profileDir)
	return nil
}
