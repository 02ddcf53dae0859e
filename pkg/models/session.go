// Package models contains domain models for interviewsim.
package models

// DefaultTitle is the title a session carries until its first message arrives.
const DefaultTitle = "New Interview"

// TitleRuneLimit is the maximum number of visible characters kept when a
// session title is derived from its first message.
const TitleRuneLimit = 50

// Session represents a persisted interview conversation container.
type Session struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	Title            string `json:"title"`
	Pinned           bool   `json:"pinned"`
	CreatedAt        string `json:"created_at"`
	CreatedAtEpoch   int64  `json:"created_at_epoch"`
	LastUpdated      string `json:"last_updated"`
	LastUpdatedEpoch int64  `json:"last_updated_epoch"`
}

// TitleFromMessage derives the one-time session title from the first message:
// a prefix of at most TitleRuneLimit visible characters, with an ellipsis when
// the message is longer.
func TitleFromMessage(text string) string {
	runes := []rune(text)
	if len(runes) <= TitleRuneLimit {
		return text
	}
	return string(runes[:TitleRuneLimit]) + "..."
}
