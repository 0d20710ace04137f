// Package journal persists submission transitions so the dashboard can list
// recent submissions and their history.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakura-kun-88/startup-compass-89/pkg/submission"
)

// DefaultListLimit applies when List is called with a non-positive limit.
const DefaultListLimit = 50

// Entry is one persisted transition.
type Entry struct {
	ID           int64     `json:"id"`
	SubmissionID string    `json:"submission_id,omitempty"`
	RecordID     uint64    `json:"record_id"`
	Category     string    `json:"category"`
	From         string    `json:"from"`
	Phase        string    `json:"phase"`
	TxHandle     string    `json:"tx_handle,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// FromTransition flattens a coordinator transition.
func FromTransition(t submission.Transition) Entry {
	return Entry{
		SubmissionID: t.State.SubmissionID,
		RecordID:     t.Key.RecordID,
		Category:     t.Key.Category,
		From:         t.From.String(),
		Phase:        t.State.Phase.String(),
		TxHandle:     t.State.TxHandle.String(),
		Reason:       t.State.ReasonText(),
		Timestamp:    t.State.UpdatedAt.UTC(),
	}
}

// Store persists entries.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	// List returns the most recent entries, newest first.
	List(ctx context.Context, limit int) ([]Entry, error)
	// History returns every entry of one key, oldest first.
	History(ctx context.Context, key submission.Key) ([]Entry, error)
}

// Recorder is a submission.Observer that appends every transition to a Store.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, logger: slog.Default().With("component", "journal")}
}

// OnTransition implements submission.Observer.
func (r *Recorder) OnTransition(ctx context.Context, t submission.Transition) error {
	e := FromTransition(t)
	if err := r.store.Append(ctx, &e); err != nil {
		return err
	}
	r.logger.DebugContext(ctx, "transition recorded", "id", e.ID, "record_id", e.RecordID, "category", e.Category, "phase", e.Phase)
	return nil
}

// MemoryStore keeps entries in process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, *e)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, min(limit, len(s.entries)))
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *MemoryStore) History(_ context.Context, key submission.Key) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.RecordID == key.RecordID && e.Category == key.Category {
			out = append(out, e)
		}
	}
	return out, nil
}
