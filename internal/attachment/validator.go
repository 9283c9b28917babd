// Package attachment validates, stores and resolves files attached to chat
// messages. Only a fixed allow-list of media types up to a size ceiling is
// accepted; anything else is rejected and its stored bytes are purged.
package attachment

import (
	"mime"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/moviemark/studio-chat/internal/apperr"
)

// DefaultMaxSize is the default upload ceiling (10 MiB).
const DefaultMaxSize int64 = 10 << 20

// AllowedTypes is the media type allow-list.
var AllowedTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"image/webp":         true,
	"audio/mpeg":         true,
	"audio/wav":          true,
	"audio/ogg":          true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
}

// NormalizeMediaType lowercases a Content-Type value and strips parameters
// such as charset.
func NormalizeMediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// Validator checks declared media type and size.
type Validator struct {
	MaxSize int64
}

// NewValidator returns a Validator with the given ceiling, or the default
// when maxSize is not positive.
func NewValidator(maxSize int64) Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return Validator{MaxSize: maxSize}
}

// CheckType rejects media types outside the allow-list.
func (v Validator) CheckType(mediaType string) error {
	if !AllowedTypes[NormalizeMediaType(mediaType)] {
		return apperr.New(apperr.ErrUnsupportedMediaType, "media type %q is not allowed", mediaType)
	}
	return nil
}

// CheckSize rejects sizes above the ceiling.
func (v Validator) CheckSize(size int64) error {
	if size > v.MaxSize {
		return apperr.New(apperr.ErrPayloadTooLarge, "attachment is %s, limit is %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(v.MaxSize)))
	}
	return nil
}

// Validate applies both checks.
func (v Validator) Validate(mediaType string, size int64) error {
	if err := v.CheckType(mediaType); err != nil {
		return err
	}
	return v.CheckSize(size)
}
