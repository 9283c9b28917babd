package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/attachment"
	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/chat"
	"github.com/moviemark/studio-chat/internal/gateway"
	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/report"
)

// MessageReader reads room history.
type MessageReader interface {
	Get(ctx context.Context, id string) (*chat.Message, error)
	History(ctx context.Context, roomID string, limit int) ([]*chat.Message, error)
}

// LiveRoom applies changes through the room dispatchers so connected
// participants see HTTP edits in order with everything else.
type LiveRoom interface {
	Edit(ctx context.Context, c gateway.Client, messageID, body string) error
	Delete(ctx context.Context, c gateway.Client, messageID string) error
}

// Reporter files reports.
type Reporter interface {
	Report(ctx context.Context, reporter auth.Identity, messageID, reason, description string) (*report.Report, error)
}

// Uploads stores and serves attachments.
type Uploads interface {
	Upload(ctx context.Context, name, mediaType string, declaredSize int64, r io.Reader) (attachment.Reference, error)
	Store() attachment.BlobStore
}

// UploadLimiter throttles uploads per user.
type UploadLimiter interface {
	Allow(ctx context.Context, userID string) (bool, time.Duration, error)
}

// ChatConfig tunes the participant API.
type ChatConfig struct {
	HistoryLimit   int           // default and maximum page size
	UploadMaxSize  int64         // attachment ceiling; the request body may exceed it by the multipart overhead
	PersistTimeout time.Duration // deadline for edits and deletes run through the room
}

// ChatDeps are the participant API collaborators. Limiter may be nil.
type ChatDeps struct {
	Auth      Authenticator
	Messages  MessageReader
	Directory gateway.Directory
	Live      LiveRoom
	Reports   Reporter
	Uploads   Uploads
	Limiter   UploadLimiter
	Log       *logrus.Entry
}

// ChatAPI serves the participant HTTP routes.
type ChatAPI struct {
	cfg ChatConfig
	ChatDeps
}

// NewChatAPI creates the participant API.
func NewChatAPI(cfg ChatConfig, d ChatDeps) *ChatAPI {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.UploadMaxSize <= 0 {
		cfg.UploadMaxSize = attachment.DefaultMaxSize
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = gateway.DefaultConfig().PersistTimeout
	}
	d.Log = logging.OrDiscard(d.Log)
	return &ChatAPI{cfg: cfg, ChatDeps: d}
}

// Router returns the routes under /api/chat and /uploads.
func (a *ChatAPI) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(a.Log))

	r.HandleFunc(attachment.URLPrefix+"{key}", a.Download).Methods("GET")

	api := r.PathPrefix("/api/chat").Subrouter()
	api.Use(authMiddleware(a.Auth, a.Log))
	api.HandleFunc("/rooms/{room}/messages", a.History).Methods("GET")
	api.HandleFunc("/messages/{id}", a.EditMessage).Methods("PUT")
	api.HandleFunc("/messages/{id}", a.DeleteMessage).Methods("DELETE")
	api.HandleFunc("/messages/{id}/report", a.ReportMessage).Methods("POST")
	api.HandleFunc("/upload", a.Upload).Methods("POST")
	return r
}

// History handles GET /api/chat/rooms/{room}/messages?limit=N.
func (a *ChatAPI) History(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	limit := a.cfg.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, r, a.Log, apperr.New(apperr.ErrInvalid, "limit must be a positive integer"))
			return
		}
		limit = min(n, a.cfg.HistoryLimit)
	}

	if a.Directory != nil {
		ok, err := a.Directory.Exists(r.Context(), room)
		if err != nil {
			respondError(w, r, a.Log, apperr.Internal(err))
			return
		}
		if !ok {
			respondError(w, r, a.Log, apperr.New(apperr.ErrNotFound, "project %s", room))
			return
		}
	}

	msgs, err := a.Messages.History(r.Context(), room, limit)
	if err != nil {
		respondError(w, r, a.Log, err)
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

// EditMessage handles PUT /api/chat/messages/{id}.
func (a *ChatAPI) EditMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, a.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.PersistTimeout)
	defer cancel()
	if err := a.Live.Edit(ctx, newRequestClient(identity(r)), id, req.Body); err != nil {
		respondError(w, r, a.Log, err)
		return
	}
	m, err := a.Messages.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, a.Log, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// DeleteMessage handles DELETE /api/chat/messages/{id}.
func (a *ChatAPI) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.PersistTimeout)
	defer cancel()
	if err := a.Live.Delete(ctx, newRequestClient(identity(r)), id); err != nil {
		respondError(w, r, a.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReportMessage handles POST /api/chat/messages/{id}/report.
func (a *ChatAPI) ReportMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Reason      string `json:"reason"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, a.Log, err)
		return
	}
	rep, err := a.Reports.Report(r.Context(), identity(r), id, req.Reason, req.Description)
	if err != nil {
		respondError(w, r, a.Log, err)
		return
	}
	respondJSON(w, http.StatusCreated, rep)
}

// Upload handles POST /api/chat/upload with a multipart "file" field.
func (a *ChatAPI) Upload(w http.ResponseWriter, r *http.Request) {
	user := identity(r)
	if a.Limiter != nil {
		ok, retry, err := a.Limiter.Allow(r.Context(), user.UserID)
		if err != nil {
			a.Log.WithError(err).WithField("user_id", user.UserID).Warn("upload limiter unavailable")
		} else if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(max(int(retry.Seconds()+0.999), 1)))
			respondError(w, r, a.Log, apperr.New(apperr.ErrRateLimited, "too many uploads"))
			return
		}
	}

	// One MiB of slack for the multipart envelope; the uploader enforces the
	// exact ceiling on the file part itself.
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.UploadMaxSize+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, r, a.Log, apperr.New(apperr.ErrInvalid, "expected a multipart/form-data body"))
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			respondError(w, r, a.Log, apperr.New(apperr.ErrInvalid, "missing file field"))
			return
		}
		if err != nil {
			respondError(w, r, a.Log, uploadReadErr(err))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		declared := int64(-1)
		if v := r.Header.Get("X-Upload-Size"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				declared = n
			}
		}
		ref, err := a.Uploads.Upload(r.Context(), part.FileName(), part.Header.Get("Content-Type"), declared, part)
		part.Close()
		if err != nil {
			respondError(w, r, a.Log, uploadReadErr(err))
			return
		}
		respondJSON(w, http.StatusCreated, ref)
		return
	}
}

// uploadReadErr turns a body that outgrew the request limit into 413.
func uploadReadErr(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return apperr.New(apperr.ErrPayloadTooLarge, "request body exceeds %d bytes", tooBig.Limit)
	}
	return err
}

// Download handles GET /uploads/{key}.
func (a *ChatAPI) Download(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	store := a.Uploads.Store()
	meta, err := store.Meta(r.Context(), key)
	if err != nil {
		respondError(w, r, a.Log, err)
		return
	}
	f, err := store.Open(r.Context(), key)
	if err != nil {
		respondError(w, r, a.Log, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", meta.MediaType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": meta.Name}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		a.Log.WithError(err).WithField("key", key).Debug("download interrupted")
	}
}

// requestClient lets an HTTP request act on a room like a connection that
// never receives frames.
type requestClient struct {
	id   string
	user auth.Identity
}

func newRequestClient(user auth.Identity) *requestClient {
	return &requestClient{id: fmt.Sprintf("http-%s", uuid.NewString()), user: user}
}

func (c *requestClient) ConnID() string            { return c.id }
func (c *requestClient) Identity() auth.Identity   { return c.user }
func (c *requestClient) WriteMessage([]byte) error { return nil }
