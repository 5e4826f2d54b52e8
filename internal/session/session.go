// Package session persists conversation history in PostgreSQL.
//
// Sessions belong to a user and hold an ordered message log. Sequence
// numbers are assigned under a row lock on the parent session, so
// concurrent appends cannot interleave.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// ErrNotFound indicates the session does not exist or belongs to
// another user.
var ErrNotFound = errors.New("session not found")

// Session is a conversation owned by a single user.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single conversation turn. Content stores Genkit's
// ai.Part slice serialized as JSONB, so tool requests and responses
// survive a reload intact.
type Message struct {
	ID             int64
	SessionID      uuid.UUID
	Role           string
	Content        []*ai.Part
	SequenceNumber int32
	CreatedAt      time.Time
}

// Text concatenates the text parts of the message, skipping tool
// requests and responses.
func (m Message) Text() string {
	var b strings.Builder
	for _, part := range m.Content {
		if part == nil {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}
