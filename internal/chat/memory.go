package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/moviemark/studio-chat/internal/apperr"
)

// MemoryStore is an in-process Store used by tests and single-node
// development runs.
type MemoryStore struct {
	mu   sync.RWMutex
	seq  int64
	byID map[string]*Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Message)}
}

func clone(m *Message) *Message {
	c := *m
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	return &c
}

func (s *MemoryStore) Create(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; ok {
		return apperr.New(apperr.ErrConflict, "message %s already exists", m.ID)
	}
	s.seq++
	m.Seq = s.seq
	s.byID[m.ID] = clone(m)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "message %s", id)
	}
	return clone(m), nil
}

func (s *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok, nil
}

func (s *MemoryStore) mutate(id string, fn func(m *Message)) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "message %s", id)
	}
	fn(m)
	return clone(m), nil
}

func (s *MemoryStore) UpdateBody(_ context.Context, id, body string, at time.Time) (*Message, error) {
	return s.mutate(id, func(m *Message) {
		m.Body = body
		m.Edited = true
		m.UpdatedAt = at
	})
}

func (s *MemoryStore) SetPinned(_ context.Context, id string, pinned bool, at time.Time) (*Message, error) {
	return s.mutate(id, func(m *Message) {
		m.Pinned = pinned
		m.UpdatedAt = at
	})
}

func (s *MemoryStore) SetBlocked(_ context.Context, id string, blocked bool, at time.Time) (*Message, error) {
	return s.mutate(id, func(m *Message) {
		m.Blocked = blocked
		m.UpdatedAt = at
	})
}

func (s *MemoryStore) Delete(_ context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "message %s", id)
	}
	delete(s.byID, id)
	return m, nil
}

// roomLocked returns the room's messages ordered by sequence. s.mu must be held.
func (s *MemoryStore) roomLocked(roomID string, includeBlocked bool) []*Message {
	var out []*Message
	for _, m := range s.byID {
		if m.RoomID != roomID || (m.Blocked && !includeBlocked) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *MemoryStore) ListRoom(_ context.Context, roomID string, opts ListOptions) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.roomLocked(roomID, opts.IncludeBlocked)
	if opts.Limit > 0 && len(msgs) > opts.Limit {
		msgs = msgs[len(msgs)-opts.Limit:]
	}
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, clone(m))
	}
	return out, nil
}

func (s *MemoryStore) RoomMessageIDs(_ context.Context, roomID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, m := range s.roomLocked(roomID, true) {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, roomID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.byID {
		if m.RoomID == roomID {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RoomSummaries(_ context.Context) ([]RoomSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		summary RoomSummary
		lastSeq int64
		senders map[string]struct{}
	}
	rooms := make(map[string]*acc)
	for _, m := range s.byID {
		a, ok := rooms[m.RoomID]
		if !ok {
			a = &acc{summary: RoomSummary{RoomID: m.RoomID}, senders: make(map[string]struct{})}
			rooms[m.RoomID] = a
		}
		a.summary.MessageCount++
		a.senders[m.SenderID] = struct{}{}
		if m.Seq > a.lastSeq {
			a.lastSeq = m.Seq
			a.summary.LastMessage = m.Body
		}
		if m.CreatedAt.After(a.summary.LastMessageAt) {
			a.summary.LastMessageAt = m.CreatedAt
		}
	}

	out := make([]RoomSummary, 0, len(rooms))
	for _, a := range rooms {
		a.summary.ParticipantCount = int64(len(a.senders))
		out = append(out, a.summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byID)), nil
}
