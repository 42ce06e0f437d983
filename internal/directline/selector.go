package directline

import (
	"sort"
	"strings"

	"voicebridge/internal/domain"
)

// Selector picks the current bot message out of a full activity log.
// Classification is heuristic: the bot may announce itself through the role
// field, a known id, an id containing "bot", or a known display name.
type Selector struct {
	botIDs   []string
	botNames []string
}

// NewSelector builds a selector. When no names are given, the vendor's
// default bot display name is assumed.
func NewSelector(botIDs, botNames []string) *Selector {
	if len(botNames) == 0 {
		botNames = []string{"Concierge"}
	}
	return &Selector{botIDs: botIDs, botNames: botNames}
}

// Latest recomputes the current bot message from the full log. The second
// return is false when no activity qualifies. Selection never assumes
// incremental updates: the whole slice is filtered and sorted each call.
func (s *Selector) Latest(activities []domain.Activity) (domain.BotMessage, bool) {
	retained := make([]domain.Activity, 0, len(activities))
	for _, a := range activities {
		if a.IsMessage() && s.IsBot(a.From) {
			retained = append(retained, a)
		}
	}
	if len(retained) == 0 {
		return domain.BotMessage{}, false
	}

	sort.SliceStable(retained, func(i, j int) bool {
		return newerThan(retained[i], retained[j])
	})

	head := retained[0]
	ts, ok := head.ParsedTimestamp()
	return domain.BotMessage{
		ID:           head.ID,
		Text:         head.Text,
		Timestamp:    ts,
		HasTimestamp: ok,
		Attachments:  head.Attachments,
	}, true
}

// IsBot classifies an actor as bot-authored.
func (s *Selector) IsBot(from domain.Actor) bool {
	if from.Role == "bot" {
		return true
	}
	for _, id := range s.botIDs {
		if from.ID == id {
			return true
		}
	}
	if strings.Contains(from.ID, "bot") {
		return true
	}
	for _, name := range s.botNames {
		if from.Name == name {
			return true
		}
	}
	return false
}

// newerThan orders activities descending by timestamp; when either side lacks
// a parseable timestamp, both fall back to descending lexical id comparison.
func newerThan(a, b domain.Activity) bool {
	at, aok := a.ParsedTimestamp()
	bt, bok := b.ParsedTimestamp()
	if aok && bok {
		return at.After(bt)
	}
	return a.ID > b.ID
}
