package domain

import "context"

// MessageSource is one bot-message acquisition strategy. Both the polling
// source and the widget-observation source implement it; only one needs to
// run for a given deployment, and two running instances do not coordinate.
//
// Start returns an error when called on an already-started source. Stop is
// idempotent: stopping twice, or stopping a never-started source, is a no-op.
// After Stop returns, no further delivery callback runs and any pending timer
// is cancelled.
type MessageSource interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
}

// TextExtractor supplies widget-subtree observations to the watcher. It is
// pluggable so alternative hosts (or test doubles) can provide synthetic
// snapshots without a real rendering surface.
type TextExtractor interface {
	Extract(ctx context.Context) (Snapshot, error)
}

// ExtractorFunc adapts a function to the TextExtractor interface.
type ExtractorFunc func(ctx context.Context) (Snapshot, error)

func (f ExtractorFunc) Extract(ctx context.Context) (Snapshot, error) { return f(ctx) }
