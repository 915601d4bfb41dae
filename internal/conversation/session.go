package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/persona"
)

// ErrSessionLocked is returned when another turn holds the session
var ErrSessionLocked = errors.New("session is busy with another turn")

// Session is the state carried between turns of one conversation
type Session struct {
	ID        string           `json:"id"`
	Persona   string           `json:"persona,omitempty"`
	Overrides persona.Settings `json:"overrides,omitempty"` // Per-session option overrides applied on top of the persona
	Messages  []model.Message  `json:"messages"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewSession creates an empty session
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now}
}

// SessionStore keeps sessions between turns. Lock grants exclusive use of a
// session to a single turn; the returned function releases it.
type SessionStore interface {
	Load(ctx context.Context, id string) (*Session, bool, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Lock(ctx context.Context, id string) (func(), error)
}
