package api

import (
	"context"
	"encoding/csv"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/chat"
	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/moderation"
	"github.com/moviemark/studio-chat/internal/report"
)

// Moderator is the moderation engine as seen by the admin API.
type Moderator interface {
	ListReports(ctx context.Context, actor auth.Identity, f report.Filter) ([]*report.Report, error)
	ReviewReport(ctx context.Context, actor auth.Identity, reportID string, to report.Status) (*report.Report, error)
	GlobalEdit(ctx context.Context, actor auth.Identity, messageID, body string) (*chat.Message, error)
	GlobalDelete(ctx context.Context, actor auth.Identity, messageID string) error
	HideMessage(ctx context.Context, actor auth.Identity, messageID string, hidden bool) (*chat.Message, error)
	BlockUser(ctx context.Context, actor auth.Identity, userID string, blocked bool) error
	Rooms(ctx context.Context, actor auth.Identity) ([]moderation.RoomOverview, error)
	ClearRoom(ctx context.Context, actor auth.Identity, roomID string) (int64, error)
	ExportTranscript(ctx context.Context, actor auth.Identity, roomID string) ([]moderation.TranscriptEntry, error)
	Stats(ctx context.Context, actor auth.Identity) (moderation.Stats, error)
	AuditTrail(ctx context.Context, actor auth.Identity, limit int) ([]*moderation.Action, error)
}

// AdminAPI serves the administrator routes.
type AdminAPI struct {
	auth   Authenticator
	engine Moderator
	log    *logrus.Entry
}

// NewAdminAPI creates the admin API.
func NewAdminAPI(authn Authenticator, engine Moderator, log *logrus.Entry) *AdminAPI {
	return &AdminAPI{auth: authn, engine: engine, log: logging.OrDiscard(log)}
}

// Router returns the routes under /api/admin. Every route requires an
// administrator.
func (a *AdminAPI) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(a.log))

	api := r.PathPrefix("/api/admin").Subrouter()
	api.Use(authMiddleware(a.auth, a.log))
	api.Use(adminMiddleware(a.log))

	api.HandleFunc("/reports", a.ListReports).Methods("GET")
	api.HandleFunc("/reports/{id}", a.ReviewReport).Methods("PUT")
	api.HandleFunc("/messages/{id}", a.EditMessage).Methods("PUT")
	api.HandleFunc("/messages/{id}", a.DeleteMessage).Methods("DELETE")
	api.HandleFunc("/messages/{id}/hidden", a.HideMessage).Methods("PUT")
	api.HandleFunc("/users/{id}/block", a.BlockUser).Methods("PUT")
	api.HandleFunc("/rooms", a.ListRooms).Methods("GET")
	api.HandleFunc("/rooms/{room}", a.ClearRoom).Methods("DELETE")
	api.HandleFunc("/export/{room}", a.Export).Methods("GET")
	api.HandleFunc("/stats", a.Stats).Methods("GET")
	api.HandleFunc("/audit", a.Audit).Methods("GET")
	return r
}

// ListReports handles GET /api/admin/reports?status=&message_id=&limit=.
func (a *AdminAPI) ListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := report.Filter{Status: report.Status(q.Get("status")), MessageID: q.Get("message_id")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, r, a.log, apperr.New(apperr.ErrInvalid, "limit must be a positive integer"))
			return
		}
		f.Limit = n
	}
	reports, err := a.engine.ListReports(r.Context(), identity(r), f)
	if err != nil {
		respondError(w, r, a.log, err)
		return
	}
	if reports == nil {
		reports = []*report.Report{}
	}
	respondJSON(w, http.StatusOK, reports)
}

// ReviewReport handles PUT /api/admin/reports/{id} with {"status": "..."}.
func (a *AdminAPI) ReviewReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status report.Status `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, a.log, err)
		return
	}
	rep, err := a.engine.ReviewReport(r.Context(), identity(r), mux.Vars(r)["id"], req.Status)
	if err != nil {
		respondError(w, r, a.log, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// EditMessage handles PUT /api/admin/messages/{id}.
func (a *AdminAPI) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, a.log, err)
		return
	}
	m, err := a.engine.GlobalEdit(r.Context(), identity(r), mux.Vars(r)["id"], req.Body)
	if err != nil {
		respondError(w, r, a.log, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// DeleteMessage handles DELETE /api/admin/messages/{id}.
func (a *AdminAPI) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.GlobalDelete(r.Context(), identity(r), mux.Vars(r)["id"]); err != nil {
		respondError(w, r, a.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HideMessage handles PUT /api/admin/messages/{id}/hidden with {"hidden": bool}.
func (a *AdminAPI) HideMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hidden bool `json:"hidden"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, a.log, err)
		return
	}
	m, err := a.engine.HideMessage(r.Context(), identity(r), mux.Vars(r)["id"], req.Hidden)
	if err != nil {
		respondError(w, r, a.log, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// BlockUser handles PUT /api/admin/users/{id}/block with {"blocked": bool}.
func (a *AdminAPI) BlockUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Blocked bool `json:"blocked"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, a.log, err)
		return
	}
	userID := mux.Vars(r)["id"]
	if err := a.engine.BlockUser(r.Context(), identity(r), userID, req.Blocked); err != nil {
		respondError(w, r, a.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "blocked": req.Blocked})
}

// ListRooms handles GET /api/admin/rooms.
func (a *AdminAPI) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.engine.Rooms(r.Context(), identity(r))
	if err != nil {
		respondError(w, r, a.log, err)
		return
	}
	if rooms == nil {
		rooms = []moderation.RoomOverview{}
	}
	respondJSON(w, http.StatusOK, rooms)
}

// ClearRoom handles DELETE /api/admin/rooms/{room}.
func (a *AdminAPI) ClearRoom(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	n, err := a.engine.ClearRoom(r.Context(), identity(r), room)
	if err != nil {
		respondError(w, r, a.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"room_id": room, "deleted": n})
}

// Export handles GET /api/admin/export/{room}. ?format=csv returns the
// transcript as a CSV attachment; JSON is the default.
func (a *AdminAPI) Export(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	entries, err := a.engine.ExportTranscript(r.Context(), identity(r), room)
	if err != nil {
		respondError(w, r, a.log, err)
		return
	}
	if entries == nil {
		entries = []moderation.TranscriptEntry{}
	}

	if r.URL.Query().Get("format") != "csv" {
		respondJSON(w, http.StatusOK, entries)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "transcript-" + room + ".csv"}))
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	cw.Write([]string{"timestamp", "sender", "role", "message", "type", "edited", "reported", "blocked"})
	for _, e := range entries {
		cw.Write([]string{
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Sender,
			e.Role,
			e.Body,
			e.Type,
			strconv.FormatBool(e.Edited),
			strconv.FormatBool(e.Reported),
			strconv.FormatBool(e.Blocked),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		a.log.WithError(err).WithField("room_id", room).Warn("csv export interrupted")
	}
}

// Stats handles GET /api/admin/stats.
func (a *AdminAPI) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.engine.Stats(r.Context(), identity(r))
	if err != nil {
		respondError(w, r, a.log, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Audit handles GET /api/admin/audit?limit=N.
func (a *AdminAPI) Audit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, r, a.log, apperr.New(apperr.ErrInvalid, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	actions, err := a.engine.AuditTrail(r.Context(), identity(r), limit)
	if err != nil {
		respondError(w, r, a.log, err)
		return
	}
	if actions == nil {
		actions = []*moderation.Action{}
	}
	respondJSON(w, http.StatusOK, actions)
}
