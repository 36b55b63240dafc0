package domain

import "time"

// TurnType identifies who produced a turn.
type TurnType string

const (
	TurnQuestion TurnType = "question"
	TurnAnswer   TurnType = "answer"
)

// Turn is a single message in the conversation.
//
// Timestamp is for display only. CreatedAt is the ordering key used by every
// store backend.
type Turn struct {
	Type      TurnType  `json:"type"`
	Content   string    `json:"content"`
	Timestamp string    `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// NewTurn builds a turn created at now.
func NewTurn(typ TurnType, content string, now time.Time) Turn {
	return Turn{
		Type:      typ,
		Content:   content,
		Timestamp: FormatTimestamp(now),
		CreatedAt: now,
	}
}

// Valid reports whether t carries a known type.
func (t TurnType) Valid() bool {
	return t == TurnQuestion || t == TurnAnswer
}
