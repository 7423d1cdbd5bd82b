package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SessionRow is the durable record of a synced video. SegmentsJSON holds
// the sanitised transcript segments so the in-memory index can be rebuilt
// after a restart.
type SessionRow struct {
	ID           string
	VideoID      string
	Title        string
	Language     string
	SegmentsJSON string
	ChunkCount   int
	EmbedModel   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is one turn of a session's chat history. CitationsJSON holds the
// extracted citation list as a JSON array stored as text.
type Message struct {
	ID            string
	SessionID     string
	Role          string // "user" or "assistant"
	Content       string
	CitationsJSON string
	CreatedAt     time.Time
}
