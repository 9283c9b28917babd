package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/moviemark/studio-chat/internal/apperr"
)

const (
	MaxMessageBytes = 16384 // hard byte ceiling for a single body
	MaxTextChars    = 4000  // max character count
)

// ValidateBody checks that a text body meets content requirements.
func ValidateBody(text string) error {
	if strings.TrimSpace(text) == "" {
		return apperr.New(apperr.ErrInvalid, "message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return apperr.New(apperr.ErrInvalid, "message exceeds %d byte limit", MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return apperr.New(apperr.ErrInvalid, "message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return apperr.New(apperr.ErrInvalid, "message exceeds %d character limit", MaxTextChars)
	}
	return nil
}

// ValidateDraft checks a new message. File messages need an attachment and
// may carry an optional caption.
func ValidateDraft(d Draft) error {
	if d.RoomID == "" {
		return apperr.New(apperr.ErrInvalid, "room id is required")
	}
	switch d.Kind {
	case KindText, "":
		if d.Attachment != nil {
			return apperr.New(apperr.ErrInvalid, "text messages cannot carry an attachment")
		}
		return ValidateBody(d.Body)
	case KindFile:
		if d.Attachment == nil || d.Attachment.URL == "" {
			return apperr.New(apperr.ErrInvalid, "file messages need an attachment")
		}
		if d.Body == "" {
			return nil
		}
		return ValidateBody(d.Body)
	default:
		return apperr.New(apperr.ErrInvalid, "unknown message kind %q", d.Kind)
	}
}
