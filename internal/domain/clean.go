package domain

import "strings"

// CleanText prepares a bot message for delivery: emoji ranges are stripped,
// whitespace runs collapse to single spaces, and the result is trimmed.
func CleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isEmoji(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// isEmoji covers the pictographic planes plus the joiners and variation
// selectors that glue emoji sequences together.
func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r == 0x2B50 || r == 0x2B55:
		return true
	case r == 0xFE0F || r == 0x200D:
		return true
	}
	return false
}

// DedupState suppresses re-delivery of an unchanged message. Each source
// instance owns its state exclusively; it is mutated only by the delivery
// step, with both fields updated before the downstream callback runs.
type DedupState struct {
	LastID   string
	LastText string
}

// key falls back to the trimmed text when the activity carries no id.
func dedupKey(id, text string) string {
	if id != "" {
		return id
	}
	return strings.TrimSpace(text)
}

// IsNew reports whether the (id, text) pair differs from the last delivery.
func (d *DedupState) IsNew(id, text string) bool {
	return dedupKey(id, text) != d.LastID || text != d.LastText
}

// MarkDelivered records the delivery. Call before invoking the callback so a
// re-check mid-callback cannot re-deliver the same message.
func (d *DedupState) MarkDelivered(id, text string) {
	d.LastID = dedupKey(id, text)
	d.LastText = text
}
