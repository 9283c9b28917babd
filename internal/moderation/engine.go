// Package moderation implements the administrator side of the chat: the
// report lifecycle, global edit and delete, hiding messages, blocking users,
// transcript export, room administration and the audit trail. Every
// operation except filing a report requires an administrator identity.
package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/chat"
	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/metrics"
	"github.com/moviemark/studio-chat/internal/report"
)

// DefaultAuditLimit bounds AuditTrail when no limit is given.
const DefaultAuditLimit = 100

// Messages is the part of the message service the engine uses.
type Messages interface {
	Get(ctx context.Context, id string) (*chat.Message, error)
	Edit(ctx context.Context, actor auth.Identity, id, body string) (*chat.Message, error)
	Delete(ctx context.Context, actor auth.Identity, id string) (*chat.Message, error)
	SetHidden(ctx context.Context, id string, hidden bool) (*chat.Message, error)
	Transcript(ctx context.Context, roomID string) ([]*chat.Message, error)
	ClearRoom(ctx context.Context, roomID string) (int64, error)
	Rooms(ctx context.Context) ([]chat.RoomSummary, error)
	Count(ctx context.Context) (int64, error)
}

// Blocks stores per-user block flags.
type Blocks interface {
	SetBlocked(ctx context.Context, userID string, blocked bool) error
	Count(ctx context.Context) (int64, error)
}

// Deps are the collaborators of an Engine. Notifier and Audit may be nil.
type Deps struct {
	Messages Messages
	Reports  report.Store
	Blocks   Blocks
	Audit    AuditLog
	Notifier Notifier
	Log      *logrus.Entry
}

// Engine applies moderation operations.
type Engine struct {
	messages Messages
	reports  report.Store
	blocks   Blocks
	audit    AuditLog
	notifier Notifier
	log      *logrus.Entry
	now      func() time.Time
}

// NewEngine wires an Engine.
func NewEngine(d Deps) *Engine {
	return &Engine{
		messages: d.Messages,
		reports:  d.Reports,
		blocks:   d.Blocks,
		audit:    d.Audit,
		notifier: d.Notifier,
		log:      logging.OrDiscard(d.Log),
		now:      time.Now,
	}
}

func requireAdmin(actor auth.Identity) error {
	if !actor.IsAdmin() {
		return apperr.New(apperr.ErrForbidden, "administrator role required")
	}
	return nil
}

// Report files a report by any participant. A second report of the same
// message by the same reporter fails with apperr.ErrConflict.
func (e *Engine) Report(ctx context.Context, reporter auth.Identity, messageID, reason, description string) (*report.Report, error) {
	now := e.now().UTC()
	r := &report.Report{
		ID:          uuid.New().String(),
		MessageID:   messageID,
		ReporterID:  reporter.UserID,
		Reason:      reason,
		Description: strings.TrimSpace(description),
		Status:      report.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := report.Validate(r); err != nil {
		return nil, err
	}
	if err := e.reports.Create(ctx, r); err != nil {
		if apperr.Code(err) == "conflict" {
			metrics.ReportsTotal.WithLabelValues("duplicate").Inc()
		}
		return nil, passThrough(err)
	}
	metrics.ReportsTotal.WithLabelValues("created").Inc()
	e.log.WithFields(logrus.Fields{"report_id": r.ID, "message_id": messageID, "user_id": reporter.UserID}).Info("report filed")
	return r, nil
}

// ReviewReport moves a report to a new status. Only forward moves are legal;
// anything else fails with apperr.ErrInvalidTransition.
func (e *Engine) ReviewReport(ctx context.Context, actor auth.Identity, reportID string, to report.Status) (*report.Report, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	r, err := e.reports.UpdateStatus(ctx, reportID, to, actor.UserID, e.now().UTC())
	if err != nil {
		return nil, passThrough(err)
	}
	metrics.ReportsTotal.WithLabelValues(string(to)).Inc()
	e.record(ctx, &Action{Action: ActionReviewReport, ActorID: actor.UserID, ReportID: reportID, MessageID: r.MessageID, Detail: string(to)})
	return r, nil
}

// ListReports returns reports matching f. Reports whose message is gone are
// never included.
func (e *Engine) ListReports(ctx context.Context, actor auth.Identity, f report.Filter) ([]*report.Report, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.New(apperr.ErrInvalid, "unknown status %q", f.Status)
	}
	out, err := e.reports.List(ctx, f)
	if err != nil {
		return nil, passThrough(err)
	}
	return out, nil
}

// GlobalEdit replaces the body of any message.
func (e *Engine) GlobalEdit(ctx context.Context, actor auth.Identity, messageID, body string) (*chat.Message, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	m, err := e.messages.Edit(ctx, actor, messageID, body)
	if err != nil {
		return nil, err
	}
	e.record(ctx, &Action{Action: ActionEditMessage, ActorID: actor.UserID, RoomID: m.RoomID, MessageID: m.ID})
	e.notify(ctx, Event{Kind: EventMessageUpdated, RoomID: m.RoomID, MessageID: m.ID, Message: m})
	return m, nil
}

// GlobalDelete removes any message together with its reports.
func (e *Engine) GlobalDelete(ctx context.Context, actor auth.Identity, messageID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	m, err := e.messages.Delete(ctx, actor, messageID)
	if err != nil {
		return err
	}
	e.record(ctx, &Action{Action: ActionDelete, ActorID: actor.UserID, RoomID: m.RoomID, MessageID: m.ID, TargetUserID: m.SenderID})
	e.notify(ctx, Event{Kind: EventMessageDeleted, RoomID: m.RoomID, MessageID: m.ID})
	return nil
}

// HideMessage sets or clears the blocked flag of a message. Hidden messages
// drop out of room history but stay in the transcript.
func (e *Engine) HideMessage(ctx context.Context, actor auth.Identity, messageID string, hidden bool) (*chat.Message, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	m, err := e.messages.SetHidden(ctx, messageID, hidden)
	if err != nil {
		return nil, err
	}
	action := ActionHide
	if !hidden {
		action = ActionUnhide
	}
	e.record(ctx, &Action{Action: action, ActorID: actor.UserID, RoomID: m.RoomID, MessageID: m.ID})
	e.notify(ctx, Event{Kind: EventMessageHidden, RoomID: m.RoomID, MessageID: m.ID, Message: m})
	return m, nil
}

// BlockUser sets or clears a user's block flag. It only affects future
// sends; messages already posted stay as they are.
func (e *Engine) BlockUser(ctx context.Context, actor auth.Identity, userID string, blocked bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperr.New(apperr.ErrInvalid, "user id is required")
	}
	if err := e.blocks.SetBlocked(ctx, userID, blocked); err != nil {
		return apperr.Internal(err)
	}
	action := ActionBlockUser
	if !blocked {
		action = ActionUnblockUser
	}
	e.record(ctx, &Action{Action: action, ActorID: actor.UserID, TargetUserID: userID})
	return nil
}

// ExportTranscript returns every message of a room, hidden ones included,
// as flat records in room order.
func (e *Engine) ExportTranscript(ctx context.Context, actor auth.Identity, roomID string) ([]TranscriptEntry, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	msgs, err := e.messages.Transcript(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]TranscriptEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, TranscriptEntry{
			Timestamp: m.CreatedAt,
			Sender:    m.SenderName,
			Role:      string(m.SenderRole),
			Body:      transcriptBody(m),
			Type:      string(m.Kind),
			Edited:    m.Edited,
			Reported:  m.Reported,
			Blocked:   m.Blocked,
		})
	}
	e.record(ctx, &Action{Action: ActionExport, ActorID: actor.UserID, RoomID: roomID, Detail: fmt.Sprintf("%d messages", len(out))})
	return out, nil
}

func transcriptBody(m *chat.Message) string {
	if m.Kind == chat.KindFile && m.Attachment != nil {
		if m.Body == "" {
			return m.Attachment.URL
		}
		return m.Body + " " + m.Attachment.URL
	}
	return m.Body
}

// Rooms lists every room that has messages with its counters.
func (e *Engine) Rooms(ctx context.Context, actor auth.Identity) ([]RoomOverview, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	summaries, err := e.messages.Rooms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RoomOverview, 0, len(summaries))
	for _, s := range summaries {
		msgs, err := e.messages.Transcript(ctx, s.RoomID)
		if err != nil {
			return nil, err
		}
		reports := 0
		for _, m := range msgs {
			reports += m.ReportCount
		}
		out = append(out, RoomOverview{RoomSummary: s, ReportCount: reports})
	}
	return out, nil
}

// ClearRoom deletes every message of a room and their reports.
func (e *Engine) ClearRoom(ctx context.Context, actor auth.Identity, roomID string) (int64, error) {
	if err := requireAdmin(actor); err != nil {
		return 0, err
	}
	if strings.TrimSpace(roomID) == "" {
		return 0, apperr.New(apperr.ErrInvalid, "room id is required")
	}
	n, err := e.messages.ClearRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	e.record(ctx, &Action{Action: ActionClearRoom, ActorID: actor.UserID, RoomID: roomID, Detail: fmt.Sprintf("%d messages", n)})
	e.notify(ctx, Event{Kind: EventRoomCleared, RoomID: roomID})
	return n, nil
}

// Stats returns the dashboard counters.
func (e *Engine) Stats(ctx context.Context, actor auth.Identity) (Stats, error) {
	if err := requireAdmin(actor); err != nil {
		return Stats{}, err
	}
	var (
		st  Stats
		err error
	)
	if st.Messages, err = e.messages.Count(ctx); err != nil {
		return Stats{}, err
	}
	counts, err := e.reports.Counts(ctx)
	if err != nil {
		return Stats{}, apperr.Internal(err)
	}
	st.Reports, st.PendingReports = counts.Total, counts.Pending
	rooms, err := e.messages.Rooms(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.Rooms = len(rooms)
	if st.BlockedUsers, err = e.blocks.Count(ctx); err != nil {
		return Stats{}, apperr.Internal(err)
	}
	return st, nil
}

// AuditTrail returns the most recent moderation actions, newest first.
func (e *Engine) AuditTrail(ctx context.Context, actor auth.Identity, limit int) ([]*Action, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if e.audit == nil {
		return []*Action{}, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = DefaultAuditLimit
	}
	out, err := e.audit.List(ctx, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// record appends to the audit trail. The action has already been applied,
// so a failure is only logged.
func (e *Engine) record(ctx context.Context, a *Action) {
	metrics.ModerationActions.WithLabelValues(a.Action).Inc()
	if e.audit == nil {
		return
	}
	a.ID = uuid.New().String()
	a.CreatedAt = e.now().UTC()
	if err := e.audit.Record(context.WithoutCancel(ctx), a); err != nil {
		e.log.WithError(err).WithField("action", a.Action).Error("failed to record moderation action")
	}
}

// notify pushes the live effect of an action to connected participants.
// Delivery is best effort: the change is already durable.
func (e *Engine) notify(ctx context.Context, ev Event) {
	if e.notifier == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now().UTC()
	}
	if err := e.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"room_id": ev.RoomID, "kind": ev.Kind}).Warn("room event not delivered")
	}
}

func passThrough(err error) error {
	if apperr.Code(err) != "internal" {
		return err
	}
	return apperr.Internal(fmt.Errorf("moderation: %w", err))
}
