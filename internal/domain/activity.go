package domain

import "time"

// Activity is one event from the remote conversation log. The vendor API
// returns the full accumulated log on every fetch, not a delta.
type Activity struct {
	ID          string       `json:"id,omitempty"`
	Type        string       `json:"type"`
	Text        string       `json:"text,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	From        Actor        `json:"from"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Actor describes who authored an activity. Any of the fields may classify
// it as bot-authored.
type Actor struct {
	Role string `json:"role,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Attachment is a rich-card payload attached to a message activity.
type Attachment struct {
	ContentURL string   `json:"contentUrl,omitempty"`
	Title      string   `json:"title,omitempty"`
	Subtitle   string   `json:"subtitle,omitempty"`
	Images     []string `json:"images,omitempty"`
	Buttons    []Button `json:"buttons,omitempty"`
}

type Button struct {
	Title string `json:"title,omitempty"`
	Value string `json:"value,omitempty"`
}

// IsMessage reports whether the activity is a message with visible content.
// Typing indicators and other event types are not messages.
func (a Activity) IsMessage() bool {
	return a.Type == "message" && (a.Text != "" || len(a.Attachments) > 0)
}

// ParsedTimestamp parses the ISO timestamp. The second return is false when
// the activity carries no parseable timestamp.
func (a Activity) ParsedTimestamp() (time.Time, bool) {
	if a.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, a.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// BotMessage is the single most-recent bot-authored activity meeting the
// filter criteria. It is recomputed on every poll cycle and superseded
// wholesale; nothing persists it.
type BotMessage struct {
	ID           string
	Text         string
	Timestamp    time.Time
	HasTimestamp bool
	Attachments  []Attachment
}

// Snapshot is one observation of the widget subtree: the best-guess latest
// bot-message text plus whether a live typing indicator is visible.
type Snapshot struct {
	Text   string
	Typing bool
}
