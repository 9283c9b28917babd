package attachment

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/metrics"
)

// URLPrefix is the public path under which stored blobs are served.
const URLPrefix = "/uploads/"

// Reference is what a client gets back from an accepted upload and what it
// sends along with a file message.
type Reference struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
}

// Purger schedules a retry for blob deletions that failed.
type Purger interface {
	ScheduleBlobPurge(ctx context.Context, key string) error
}

// Uploader validates and stores uploads.
type Uploader struct {
	store     BlobStore
	validator Validator
	purger    Purger
	log       *logrus.Entry
}

// NewUploader wires an uploader. purger may be nil.
func NewUploader(store BlobStore, validator Validator, purger Purger, log *logrus.Entry) *Uploader {
	return &Uploader{store: store, validator: validator, purger: purger, log: logging.OrDiscard(log)}
}

// Store exposes the underlying blob store for serving downloads.
func (u *Uploader) Store() BlobStore {
	return u.store
}

// Upload stores r as a new attachment. declaredSize may be -1 when unknown.
// The declared type is checked before anything is written; the byte count is
// checked while writing, and an oversized blob is purged before the error is
// returned.
func (u *Uploader) Upload(ctx context.Context, name, mediaType string, declaredSize int64, r io.Reader) (Reference, error) {
	mediaType = NormalizeMediaType(mediaType)
	if err := u.validator.CheckType(mediaType); err != nil {
		metrics.UploadsTotal.WithLabelValues("unsupported").Inc()
		return Reference{}, err
	}
	if err := u.validator.CheckSize(declaredSize); err != nil {
		metrics.UploadsTotal.WithLabelValues("too_large").Inc()
		return Reference{}, err
	}

	key := newKey(name)
	n, err := u.store.Put(ctx, key, r, u.validator.MaxSize+1)
	if err != nil {
		u.purge(ctx, key)
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return Reference{}, apperr.Internal(err)
	}
	if err := u.validator.CheckSize(max(n, declaredSize)); err != nil {
		u.purge(ctx, key)
		metrics.UploadsTotal.WithLabelValues("too_large").Inc()
		return Reference{}, err
	}

	display := displayName(name)
	if err := u.store.PutMeta(ctx, key, Meta{Name: display, MediaType: mediaType, Size: n}); err != nil {
		u.purge(ctx, key)
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return Reference{}, apperr.Internal(err)
	}

	metrics.UploadsTotal.WithLabelValues("accepted").Inc()
	u.log.WithFields(logrus.Fields{"key": key, "media_type": mediaType, "size": n}).Debug("attachment stored")
	return Reference{URL: URLPrefix + key, Name: display, MediaType: mediaType}, nil
}

// Resolve checks that url points at a stored attachment that passed
// validation and returns its canonical reference.
func (u *Uploader) Resolve(ctx context.Context, url string) (Reference, error) {
	key, ok := KeyFromURL(url)
	if !ok {
		return Reference{}, apperr.New(apperr.ErrUnsupportedMediaType, "attachment %q is not a stored upload", url)
	}
	meta, err := u.store.Meta(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return Reference{}, apperr.New(apperr.ErrUnsupportedMediaType, "attachment %q was never accepted", url)
	}
	if err != nil {
		return Reference{}, apperr.Internal(err)
	}
	if err := u.validator.Validate(meta.MediaType, meta.Size); err != nil {
		return Reference{}, err
	}
	return Reference{URL: URLPrefix + key, Name: meta.Name, MediaType: meta.MediaType}, nil
}

func (u *Uploader) purge(ctx context.Context, key string) {
	ctx = context.WithoutCancel(ctx)
	if err := u.store.Delete(ctx, key); err != nil {
		u.log.WithError(err).WithField("key", key).Warn("blob purge failed, scheduling retry")
		if u.purger == nil {
			return
		}
		if err := u.purger.ScheduleBlobPurge(ctx, key); err != nil {
			u.log.WithError(err).WithField("key", key).Error("failed to schedule blob purge")
		}
	}
}

// KeyFromURL extracts the blob key from a public attachment URL.
func KeyFromURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, URLPrefix)
	if !ok || !ValidKey(key) {
		return "", false
	}
	return key, true
}

func newKey(name string) string {
	ext := strings.ToLower(filepath.Ext(displayName(name)))
	if len(ext) > 10 || !ValidKey("x"+ext) {
		ext = ""
	}
	return uuid.New().String() + ext
}

func displayName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "attachment"
	}
	return name
}
