package archive

import (
	"context"
	"strings"
	"time"
)

// Record is one archived feedback line for post-session review.
type Record struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Seq            uint64    `json:"seq"`
	Mode           string    `json:"mode"`
	ConfigID       string    `json:"config_id"`
	Classification string    `json:"classification"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists feedback transcripts.
type Store interface {
	Save(ctx context.Context, record Record) error
	BySession(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise
// in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
