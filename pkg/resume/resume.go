// Package resume persists invocations parked on missing inputs so a later
// submit can pick them up without retyping the task. The handoff file lives
// under the user's skillgate directory and is written through a file lock,
// letting concurrent CLI runs race safely.
package resume

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/skillgate/skillgate/pkg/definition"
	"github.com/skillgate/skillgate/pkg/gate"
)

// Pending is a NeedsInput invocation waiting for the caller to supply the
// attachments it was missing.
type Pending struct {
	InvocationID string                  `json:"invocation_id"`
	TaskText     string                  `json:"task_text"`
	Definition   string                  `json:"definition,omitempty"`
	Attachments  []definition.Attachment `json:"attachments,omitempty"`
	Missing      []gate.MissingInput     `json:"missing"`
	SavedAt      time.Time               `json:"saved_at"`
}

// Merge overlays newly supplied attachments on the saved ones. A new
// attachment with a saved attachment's name replaces it; order is saved
// attachments first, then genuinely new ones in their given order.
func (p *Pending) Merge(supplied []definition.Attachment) []definition.Attachment {
	merged := make([]definition.Attachment, len(p.Attachments))
	copy(merged, p.Attachments)

	index := make(map[string]int, len(merged))
	for i, att := range merged {
		index[att.Name] = i
	}
	for _, att := range supplied {
		if i, ok := index[att.Name]; ok {
			merged[i] = att
			continue
		}
		index[att.Name] = len(merged)
		merged = append(merged, att)
	}
	return merged
}

// Store reads and writes the pending handoff file.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore places the handoff file under ~/.skillgate.
func NewStore() (*Store, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user home directory")
	}
	return NewStoreAt(filepath.Join(homeDir, ".skillgate"))
}

// NewStoreAt places the handoff file under dir, creating it if needed.
func NewStoreAt(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create resume directory")
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, "pending.json")
}

// Save records a pending invocation, replacing any previous one. There is a
// single slot; the newest NeedsInput outcome is the one worth resuming.
func (s *Store) Save(pending Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pending.SavedAt.IsZero() {
		pending.SavedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(pending, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal pending invocation")
	}
	if err := lockedfile.Write(s.path(), bytes.NewReader(data), 0o644); err != nil {
		return errors.Wrap(err, "failed to write pending invocation file")
	}
	return nil
}

// Load returns the pending invocation, or nil when there is none.
func (s *Store) Load() (*Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := os.Stat(s.path()); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := lockedfile.Read(s.path())
	if err != nil {
		return nil, errors.Wrap(err, "failed to read pending invocation file")
	}

	var pending Pending
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal pending invocation")
	}
	return &pending, nil
}

// Clear removes the handoff file. Clearing when nothing is pending is fine.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove pending invocation file")
	}
	return nil
}
