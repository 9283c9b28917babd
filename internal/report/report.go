// Package report stores participant reports against chat messages and
// enforces the review lifecycle pending -> reviewed -> resolved.
package report

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/moviemark/studio-chat/internal/apperr"
)

// Status is the review state of a report.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReviewed Status = "reviewed"
	StatusResolved Status = "resolved"
)

const (
	MaxReasonChars      = 200
	MaxDescriptionChars = 2000
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReviewed, StatusResolved:
		return true
	}
	return false
}

// transitions lists, for each target status, the statuses it may be reached from.
var transitions = map[Status][]Status{
	StatusReviewed: {StatusPending},
	StatusResolved: {StatusPending, StatusReviewed},
}

// Sources returns the statuses from which to can be reached.
func Sources(to Status) []Status {
	return transitions[to]
}

// CanTransition reports whether a report may move from one status to another.
// Staying in place and moving backwards are both rejected.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Report is a single participant report against a message.
type Report struct {
	ID          string     `json:"id"`
	MessageID   string     `json:"message_id"`
	ReporterID  string     `json:"reporter_id"`
	Reason      string     `json:"reason"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Filter narrows List.
type Filter struct {
	Status    Status
	MessageID string
	Limit     int
}

// Counts are the report totals used by the admin dashboard.
type Counts struct {
	Total   int64 `json:"total"`
	Pending int64 `json:"pending"`
}

// Store persists reports. Create returns apperr.ErrNotFound when the message
// does not exist and apperr.ErrConflict on a repeat (message, reporter) pair;
// UpdateStatus returns apperr.ErrInvalidTransition for illegal moves.
type Store interface {
	Create(ctx context.Context, r *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	UpdateStatus(ctx context.Context, id string, to Status, reviewer string, at time.Time) (*Report, error)
	List(ctx context.Context, f Filter) ([]*Report, error)
	CountByMessages(ctx context.Context, messageIDs []string) (map[string]int, error)
	DeleteByMessages(ctx context.Context, messageIDs []string) (int64, error)
	DeleteOrphans(ctx context.Context) (int64, error)
	Counts(ctx context.Context) (Counts, error)
}

// Validate checks the participant-supplied fields of a new report.
func Validate(r *Report) error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.MessageID == "" {
		return apperr.New(apperr.ErrInvalid, "message id is required")
	}
	if r.ReporterID == "" {
		return apperr.New(apperr.ErrInvalid, "reporter is required")
	}
	if r.Reason == "" {
		return apperr.New(apperr.ErrInvalid, "reason is required")
	}
	if utf8.RuneCountInString(r.Reason) > MaxReasonChars {
		return apperr.New(apperr.ErrInvalid, "reason exceeds %d characters", MaxReasonChars)
	}
	if utf8.RuneCountInString(r.Description) > MaxDescriptionChars {
		return apperr.New(apperr.ErrInvalid, "description exceeds %d characters", MaxDescriptionChars)
	}
	return nil
}

// checkTarget rejects targets that no status can move to.
func checkTarget(to Status) error {
	if !to.Valid() {
		return apperr.New(apperr.ErrInvalid, "unknown status %q", to)
	}
	if len(Sources(to)) == 0 {
		return apperr.New(apperr.ErrInvalidTransition, "no report can move to %s", to)
	}
	return nil
}
