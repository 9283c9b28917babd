package report

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/moviemark/studio-chat/internal/apperr"
)

// MessageLookup answers whether a message still exists.
type MessageLookup interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// MemoryStore is an in-process Store. The mutex plays the role of the
// database unique constraint and conditional update.
type MemoryStore struct {
	mu       sync.Mutex
	messages MessageLookup
	byID     map[string]*Report
	byPair   map[[2]string]string // (message, reporter) -> report id
}

// NewMemoryStore creates an empty store that checks message existence
// through messages.
func NewMemoryStore(messages MessageLookup) *MemoryStore {
	return &MemoryStore{
		messages: messages,
		byID:     make(map[string]*Report),
		byPair:   make(map[[2]string]string),
	}
}

func cloneReport(r *Report) *Report {
	c := *r
	if r.ReviewedAt != nil {
		t := *r.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

func (s *MemoryStore) Create(ctx context.Context, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.messages.Exists(ctx, r.MessageID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.ErrNotFound, "message %s", r.MessageID)
	}
	key := [2]string{r.MessageID, r.ReporterID}
	if _, dup := s.byPair[key]; dup {
		return apperr.New(apperr.ErrConflict, "message %s already reported by %s", r.MessageID, r.ReporterID)
	}

	r.Status = StatusPending
	r.UpdatedAt = r.CreatedAt
	s.byID[r.ID] = cloneReport(r)
	s.byPair[key] = r.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "report %s", id)
	}
	return cloneReport(r), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, to Status, reviewer string, at time.Time) (*Report, error) {
	if err := checkTarget(to); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "report %s", id)
	}
	if !CanTransition(r.Status, to) {
		return nil, apperr.New(apperr.ErrInvalidTransition, "report %s cannot move from %s to %s", id, r.Status, to)
	}
	r.Status = to
	r.ReviewedBy = reviewer
	t := at
	r.ReviewedAt = &t
	r.UpdatedAt = at
	return cloneReport(r), nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Report, 0)
	for _, r := range s.byID {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.MessageID != "" && r.MessageID != f.MessageID {
			continue
		}
		ok, err := s.messages.Exists(ctx, r.MessageID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, cloneReport(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountByMessages(_ context.Context, messageIDs []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	counts := make(map[string]int, len(messageIDs))
	for _, r := range s.byID {
		if want[r.MessageID] {
			counts[r.MessageID]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) DeleteByMessages(_ context.Context, messageIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	var n int64
	for id, r := range s.byID {
		if want[r.MessageID] {
			s.removeLocked(id, r)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteOrphans(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.byID {
		ok, err := s.messages.Exists(ctx, r.MessageID)
		if err != nil {
			return n, err
		}
		if !ok {
			s.removeLocked(id, r)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Counts(ctx context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, r := range s.byID {
		ok, err := s.messages.Exists(ctx, r.MessageID)
		if err != nil {
			return Counts{}, err
		}
		if !ok {
			continue
		}
		c.Total++
		if r.Status == StatusPending {
			c.Pending++
		}
	}
	return c, nil
}

// Len returns the number of stored reports, orphans included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *MemoryStore) removeLocked(id string, r *Report) {
	delete(s.byID, id)
	delete(s.byPair, [2]string{r.MessageID, r.ReporterID})
}
