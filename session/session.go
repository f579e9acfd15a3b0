package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/m4xw311/codoc/errors"
)

// SpecialInstruction is a named, reusable system-instruction preset.
// Timestamps are Unix milliseconds.
type SpecialInstruction struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// State is everything persisted for one session.
type State struct {
	Initialized                bool                 `json:"initialized"`
	MessageHistory             Conversation         `json:"messageHistory"`
	SpecialInstructions        []SpecialInstruction `json:"specialInstructions"`
	ActiveSpecialInstructionID *string              `json:"activeSpecialInstructionId"`
}

// NewState returns the state of a session that has never been saved.
func NewState() *State {
	return &State{
		Initialized:         true,
		MessageHistory:      Conversation{},
		SpecialInstructions: []SpecialInstruction{},
	}
}

// AddMessage appends a message to the session history.
func (s *State) AddMessage(msg Message) {
	s.MessageHistory = append(s.MessageHistory, msg)
}

// Clone returns a deep enough copy for handing state across goroutines.
func (s *State) Clone() *State {
	out := &State{
		Initialized:         s.Initialized,
		MessageHistory:      s.MessageHistory.Clone(),
		SpecialInstructions: append([]SpecialInstruction(nil), s.SpecialInstructions...),
	}
	if out.SpecialInstructions == nil {
		out.SpecialInstructions = []SpecialInstruction{}
	}
	if s.ActiveSpecialInstructionID != nil {
		id := *s.ActiveSpecialInstructionID
		out.ActiveSpecialInstructionID = &id
	}
	return out
}

// Store is the load/save contract for persisted session state.
type Store interface {
	// Load returns the saved state for name, or a fresh state if none exists.
	Load(ctx context.Context, name string) (*State, error)
	Save(ctx context.Context, name string, state *State) error
	Clear(ctx context.Context, name string) error
}

// FileStore keeps one JSON document per session under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create session directory")
	}
	return &FileStore{dir: dir}, nil
}

// Load loads an existing session from disk.
func (f *FileStore) Load(ctx context.Context, name string) (*State, error) {
	path := f.sessionPath(name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}
	return decodeState(data, path)
}

// Save writes the current session state to disk.
func (f *FileStore) Save(ctx context.Context, name string, state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	return os.WriteFile(f.sessionPath(name), data, 0644)
}

// Clear removes the saved state for name.
func (f *FileStore) Clear(ctx context.Context, name string) error {
	err := os.Remove(f.sessionPath(name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "could not remove session %s", name)
	}
	return nil
}

// Exists reports whether a saved state exists for name.
func (f *FileStore) Exists(name string) bool {
	_, err := os.Stat(f.sessionPath(name))
	return err == nil
}

func (f *FileStore) sessionPath(name string) string {
	return filepath.Join(f.dir, name+".json")
}

func decodeState(data []byte, source string) (*State, error) {
	s := NewState()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, "could not parse session %s", source)
	}
	if s.MessageHistory == nil {
		s.MessageHistory = Conversation{}
	}
	if s.SpecialInstructions == nil {
		s.SpecialInstructions = []SpecialInstruction{}
	}
	return s, nil
}
