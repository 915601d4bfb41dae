// Package conversation keeps per-session message history and condenses it
// before it is sent to the model.
package conversation

import (
	"sync"

	"github.com/ppiankov/groundwork/internal/model"
)

// Store is an ordered message log whose first entry, when present, is the system prompt
type Store struct {
	mu            sync.Mutex
	messages      []model.Message
	defaultSystem string
}

// NewStore creates a log seeded with a system prompt
func NewStore(systemPrompt string) *Store {
	s := &Store{defaultSystem: systemPrompt}
	if systemPrompt != "" {
		s.messages = []model.Message{model.System(systemPrompt)}
	}
	return s
}

// Restore rebuilds a log from saved messages
func Restore(systemPrompt string, messages []model.Message) *Store {
	s := &Store{defaultSystem: systemPrompt}
	s.messages = append(s.messages, messages...)
	s.ensureSystemLocked()
	return s
}

// Append adds a message. A non-system message on an empty log is preceded by
// the default system prompt so the log always opens with one.
func (s *Store) Append(role model.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) == 0 && role != model.RoleSystem {
		s.ensureSystemLocked()
	}
	s.messages = append(s.messages, model.Message{Role: role, Content: content})
}

// History returns a copy of the log
func (s *Store) History() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages...)
}

// Len returns the number of messages
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear empties the log, keeping the system prompt when preserveSystem is set
func (s *Store) Clear(preserveSystem bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if preserveSystem && len(s.messages) > 0 && s.messages[0].Role == model.RoleSystem {
		s.messages = s.messages[:1]
		return
	}
	s.messages = nil
}

// EnsureSystem restores the default system prompt if the log does not open with one
func (s *Store) EnsureSystem() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureSystemLocked()
}

func (s *Store) ensureSystemLocked() {
	if s.defaultSystem == "" {
		return
	}
	if len(s.messages) > 0 && s.messages[0].Role == model.RoleSystem {
		return
	}
	s.messages = append([]model.Message{model.System(s.defaultSystem)}, s.messages...)
}

// SetSystem replaces the opening system prompt, inserting one if missing.
// It also becomes the prompt restored by EnsureSystem and Clear.
func (s *Store) SetSystem(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.defaultSystem = content
	if len(s.messages) > 0 && s.messages[0].Role == model.RoleSystem {
		s.messages[0].Content = content
		return
	}
	s.ensureSystemLocked()
}

// UserTurns counts user messages
func (s *Store) UserTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages {
		if m.Role == model.RoleUser {
			n++
		}
	}
	return n
}
