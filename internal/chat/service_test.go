package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/report"
)

var (
	alice = auth.Identity{UserID: "alice", Name: "Alice", Role: auth.RoleParticipant}
	bob   = auth.Identity{UserID: "bob", Name: "Bob", Role: auth.RoleParticipant}
	admin = auth.Identity{UserID: "root", Name: "Admin", Role: auth.RoleAdministrator}
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *report.MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	reports := report.NewMemoryStore(store)
	return NewService(store, reports, nil, nil), store, reports
}

func post(t *testing.T, s *Service, who auth.Identity, room, body string) *Message {
	t.Helper()
	m, err := s.Post(context.Background(), who, Draft{RoomID: room, Body: body})
	require.NoError(t, err)
	return m
}

func fileReport(t *testing.T, reports *report.MemoryStore, msgID, reporter string) {
	t.Helper()
	err := reports.Create(context.Background(), &report.Report{
		ID: msgID + "-" + reporter, MessageID: msgID, ReporterID: reporter, Reason: "spam", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestPostFillsSender(t *testing.T) {
	s, _, _ := newTestService(t)
	m := post(t, s, alice, "p1", "hello")

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "alice", m.SenderID)
	assert.Equal(t, "Alice", m.SenderName)
	assert.Equal(t, auth.RoleParticipant, m.SenderRole)
	assert.Equal(t, KindText, m.Kind)
	assert.Equal(t, int64(1), m.Seq)
}

func TestPostRejectsInvalid(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.Post(ctx, alice, Draft{RoomID: "p1", Body: "   "})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))

	_, err = s.Post(ctx, alice, Draft{RoomID: "p1", Kind: KindFile})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))

	_, err = s.Post(ctx, alice, Draft{Body: "no room"})
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func TestEditAuthorization(t *testing.T) {
	tests := []struct {
		name    string
		actor   auth.Identity
		wantErr error
	}{
		{"sender", alice, nil},
		{"other participant", bob, apperr.ErrForbidden},
		{"administrator", admin, nil},
		{"anonymous", auth.Identity{}, apperr.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestService(t)
			m := post(t, s, alice, "p1", "hello")

			updated, err := s.Edit(context.Background(), tt.actor, m.ID, "hello, edited")
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				got, _ := s.Get(context.Background(), m.ID)
				assert.Equal(t, "hello", got.Body)
				assert.False(t, got.Edited)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "hello, edited", updated.Body)
			assert.True(t, updated.Edited)
		})
	}
}

func TestDeleteAuthorization(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	m := post(t, s, alice, "p1", "hello")

	_, err := s.Delete(ctx, bob, m.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = s.Delete(ctx, alice, m.ID)
	require.NoError(t, err)

	_, err = s.Get(ctx, m.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = s.Delete(ctx, alice, m.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDeleteCascadesReports(t *testing.T) {
	s, _, reports := newTestService(t)
	ctx := context.Background()
	m := post(t, s, alice, "p1", "hello")
	keep := post(t, s, alice, "p1", "keep me")
	fileReport(t, reports, m.ID, "bob")
	fileReport(t, reports, m.ID, "carol")
	fileReport(t, reports, keep.ID, "bob")

	_, err := s.Delete(ctx, admin, m.ID)
	require.NoError(t, err)

	counts, err := reports.CountByMessages(ctx, []string{m.ID, keep.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, counts[m.ID])
	assert.Equal(t, 1, counts[keep.ID])
}

type failingReports struct{}

func (failingReports) CountByMessages(context.Context, []string) (map[string]int, error) {
	return nil, errors.New("report store down")
}

func (failingReports) DeleteByMessages(context.Context, []string) (int64, error) {
	return 0, errors.New("report store down")
}

type recordingSweeper struct{ ids []string }

func (r *recordingSweeper) ScheduleReportSweep(_ context.Context, ids []string) error {
	r.ids = append(r.ids, ids...)
	return nil
}

func TestDeleteCascadeFailureSchedulesSweep(t *testing.T) {
	store := NewMemoryStore()
	sweeper := &recordingSweeper{}
	s := NewService(store, failingReports{}, sweeper, nil)
	ctx := context.Background()

	m := post(t, s, alice, "p1", "hello")
	_, err := s.Delete(ctx, alice, m.ID)
	require.NoError(t, err, "message deletion succeeds even when the report cascade fails")

	assert.Equal(t, []string{m.ID}, sweeper.ids)
	ok, _ := store.Exists(ctx, m.ID)
	assert.False(t, ok)
}

func TestReportCountComputedOnRead(t *testing.T) {
	s, _, reports := newTestService(t)
	m := post(t, s, alice, "p1", "hello")
	fileReport(t, reports, m.ID, "bob")
	fileReport(t, reports, m.ID, "carol")

	got, err := s.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReportCount)
	assert.True(t, got.Reported)

	hist, err := s.History(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 2, hist[0].ReportCount)
}

func TestHistoryHidesBlockedAndKeepsOrder(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, post(t, s, alice, "p1", fmt.Sprintf("msg-%d", i)).ID)
	}
	post(t, s, bob, "p2", "other room")

	_, err := s.SetHidden(ctx, ids[4], true)
	require.NoError(t, err)

	hist, err := s.History(ctx, "p1", 3)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, []string{"msg-1", "msg-2", "msg-3"}, bodies(hist))

	transcript, err := s.Transcript(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, transcript, 5)
	assert.True(t, transcript[4].Blocked)
}

func TestSetPinnedPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("membership only", func(t *testing.T) {
		s, _, _ := newTestService(t)
		m := post(t, s, alice, "p1", "hello")
		got, err := s.SetPinned(ctx, bob, m.ID, true, false)
		require.NoError(t, err)
		assert.True(t, got.Pinned)
	})

	t.Run("owner only", func(t *testing.T) {
		s, _, _ := newTestService(t)
		m := post(t, s, alice, "p1", "hello")
		_, err := s.SetPinned(ctx, bob, m.ID, true, true)
		assert.True(t, errors.Is(err, apperr.ErrForbidden))

		got, err := s.SetPinned(ctx, alice, m.ID, true, true)
		require.NoError(t, err)
		assert.True(t, got.Pinned)

		got, err = s.SetPinned(ctx, admin, m.ID, false, true)
		require.NoError(t, err)
		assert.False(t, got.Pinned)
	})
}

func TestClearRoom(t *testing.T) {
	s, _, reports := newTestService(t)
	ctx := context.Background()
	a := post(t, s, alice, "p1", "one")
	post(t, s, bob, "p1", "two")
	other := post(t, s, bob, "p2", "elsewhere")
	fileReport(t, reports, a.ID, "bob")

	n, err := s.ClearRoom(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 0, reports.Len())

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	rooms, err := s.Rooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, other.RoomID, rooms[0].RoomID)
}

func TestValidateBody(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{"simple", "hello", true},
		{"unicode", "héllo wörld", true},
		{"empty", "", false},
		{"blank", " \n\t", false},
		{"too many chars", strings.Repeat("a", MaxTextChars+1), false},
		{"max chars", strings.Repeat("a", MaxTextChars), true},
		{"invalid utf8", "bad \xff byte", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBody(tt.body)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, apperr.ErrInvalid), "got %v", err)
			}
		})
	}
}

func bodies(msgs []*Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}
