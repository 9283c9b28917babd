package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/metrics"
)

// ReportIndex is the part of the report store the message log depends on:
// live report counts and cascade deletion.
type ReportIndex interface {
	CountByMessages(ctx context.Context, messageIDs []string) (map[string]int, error)
	DeleteByMessages(ctx context.Context, messageIDs []string) (int64, error)
}

// Sweeper schedules a retry for report deletions that failed after their
// messages were already removed.
type Sweeper interface {
	ScheduleReportSweep(ctx context.Context, messageIDs []string) error
}

// Service applies authorization and cascade rules on top of a Store.
type Service struct {
	store   Store
	reports ReportIndex
	sweeper Sweeper
	log     *logrus.Entry
	now     func() time.Time
}

// NewService wires a message service. reports and sweeper may be nil.
func NewService(store Store, reports ReportIndex, sweeper Sweeper, log *logrus.Entry) *Service {
	return &Service{
		store:   store,
		reports: reports,
		sweeper: sweeper,
		log:     logging.OrDiscard(log),
		now:     time.Now,
	}
}

// Post validates and persists a new message authored by author.
func (s *Service) Post(ctx context.Context, author auth.Identity, d Draft) (*Message, error) {
	if d.Kind == "" {
		d.Kind = KindText
	}
	if err := ValidateDraft(d); err != nil {
		return nil, err
	}

	now := s.now()
	created := d.CreatedAt
	if created.IsZero() {
		created = now
	}
	role := author.Role
	if role == "" {
		role = auth.RoleParticipant
	}
	m := &Message{
		ID:         uuid.New().String(),
		RoomID:     d.RoomID,
		SenderID:   author.UserID,
		SenderName: author.Name,
		SenderRole: role,
		Body:       d.Body,
		Kind:       d.Kind,
		Attachment: d.Attachment,
		CreatedAt:  created,
		UpdatedAt:  created,
	}

	start := time.Now()
	err := s.store.Create(ctx, m)
	metrics.PersistLatency.WithLabelValues("create").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return m, nil
}

// Get returns a message with its live report count.
func (s *Service) Get(ctx context.Context, id string) (*Message, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	s.decorate(ctx, []*Message{m})
	return m, nil
}

// History returns the most recent visible messages of a room, oldest first.
func (s *Service) History(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	msgs, err := s.store.ListRoom(ctx, roomID, ListOptions{Limit: limit})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.decorate(ctx, msgs)
	return msgs, nil
}

// Transcript returns every message of a room, hidden ones included.
func (s *Service) Transcript(ctx context.Context, roomID string) ([]*Message, error) {
	msgs, err := s.store.ListRoom(ctx, roomID, ListOptions{IncludeBlocked: true})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.decorate(ctx, msgs)
	return msgs, nil
}

// Edit replaces a message body. Only the sender or an administrator may edit.
func (s *Service) Edit(ctx context.Context, actor auth.Identity, id, body string) (*Message, error) {
	if err := ValidateBody(body); err != nil {
		return nil, err
	}
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if !canModify(actor, m) {
		return nil, apperr.New(apperr.ErrForbidden, "only the sender or an administrator may edit message %s", id)
	}
	updated, err := s.store.UpdateBody(ctx, id, body, s.now())
	if err != nil {
		return nil, storeErr(err)
	}
	s.decorate(ctx, []*Message{updated})
	return updated, nil
}

// Delete removes a message and then every report against it. Only the
// sender or an administrator may delete.
func (s *Service) Delete(ctx context.Context, actor auth.Identity, id string) (*Message, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if !canModify(actor, m) {
		return nil, apperr.New(apperr.ErrForbidden, "only the sender or an administrator may delete message %s", id)
	}
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	s.cascade(ctx, []string{id})
	return deleted, nil
}

// SetPinned pins or unpins a message. With ownerOnly the actor must be the
// sender or an administrator; otherwise any caller that reached this point
// (room membership is checked by the gateway) may toggle it.
func (s *Service) SetPinned(ctx context.Context, actor auth.Identity, id string, pinned, ownerOnly bool) (*Message, error) {
	if ownerOnly {
		m, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, storeErr(err)
		}
		if !canModify(actor, m) {
			return nil, apperr.New(apperr.ErrForbidden, "only the sender or an administrator may pin message %s", id)
		}
	}
	m, err := s.store.SetPinned(ctx, id, pinned, s.now())
	if err != nil {
		return nil, storeErr(err)
	}
	s.decorate(ctx, []*Message{m})
	return m, nil
}

// SetHidden flags a message as blocked so it drops out of room history while
// staying in the transcript. Callers enforce administrator rights.
func (s *Service) SetHidden(ctx context.Context, id string, hidden bool) (*Message, error) {
	m, err := s.store.SetBlocked(ctx, id, hidden, s.now())
	if err != nil {
		return nil, storeErr(err)
	}
	s.decorate(ctx, []*Message{m})
	return m, nil
}

// ClearRoom deletes every message of a room and then their reports.
func (s *Service) ClearRoom(ctx context.Context, roomID string) (int64, error) {
	ids, err := s.store.RoomMessageIDs(ctx, roomID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	n, err := s.store.DeleteRoom(ctx, roomID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	s.cascade(ctx, ids)
	return n, nil
}

// Rooms returns per-room summaries.
func (s *Service) Rooms(ctx context.Context) ([]RoomSummary, error) {
	out, err := s.store.RoomSummaries(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// Count returns the number of stored messages.
func (s *Service) Count(ctx context.Context) (int64, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

func canModify(actor auth.Identity, m *Message) bool {
	return actor.IsAdmin() || (actor.UserID != "" && actor.UserID == m.SenderID)
}

// cascade deletes reports of already-deleted messages. A failure leaves
// orphaned reports behind, which listings ignore, and hands the ids to the
// sweeper for retry.
func (s *Service) cascade(ctx context.Context, messageIDs []string) {
	if s.reports == nil || len(messageIDs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := s.reports.DeleteByMessages(ctx, messageIDs); err != nil {
		s.log.WithError(err).WithField("messages", len(messageIDs)).Warn("report cascade failed, scheduling sweep")
		if s.sweeper == nil {
			return
		}
		if err := s.sweeper.ScheduleReportSweep(ctx, messageIDs); err != nil {
			s.log.WithError(err).Error("failed to schedule report sweep")
		}
	}
}

func (s *Service) decorate(ctx context.Context, msgs []*Message) {
	if s.reports == nil || len(msgs) == 0 {
		return
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	counts, err := s.reports.CountByMessages(ctx, ids)
	if err != nil {
		s.log.WithError(err).Warn("report counts unavailable")
		return
	}
	for _, m := range msgs {
		m.ReportCount = counts[m.ID]
		m.Reported = m.ReportCount > 0
	}
}

// storeErr passes taxonomy errors through and wraps everything else as internal.
func storeErr(err error) error {
	if apperr.Code(err) != "internal" {
		return err
	}
	return apperr.Internal(fmt.Errorf("chat: %w", err))
}
