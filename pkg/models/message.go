package models

import (
	"fmt"
	"strings"
)

// Sender identifies the author of a message turn.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ParseSender validates a raw sender value read from the store.
func ParseSender(raw string) (Sender, error) {
	switch Sender(raw) {
	case SenderUser, SenderBot:
		return Sender(raw), nil
	}
	return "", fmt.Errorf("unknown sender %q", raw)
}

// LocalIDPrefix marks transient, not-yet-persisted message ids used for
// optimistic display.
const LocalIDPrefix = "temp-"

// Message represents one turn in a session transcript.
type Message struct {
	ID             string `json:"id"`
	SessionID      string `json:"session_id"`
	Text           string `json:"text"`
	Sender         Sender `json:"sender"`
	CreatedAt      string `json:"created_at"`
	CreatedAtEpoch int64  `json:"created_at_epoch"`
}

// Local reports whether the message is an optimistic local entry that has not
// been assigned a store id yet.
func (m Message) Local() bool {
	return strings.HasPrefix(m.ID, LocalIDPrefix)
}
