package goSession

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MrEthical07/goSession/protocol"
)

const (
	minRecipientDigits = 5
	maxRecipientDigits = 20
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

func validateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return validationError(ErrInvalidSessionID, "session id must be 1..128 characters of [A-Za-z0-9._-]",
			"session_id", id)
	}
	return nil
}

// normalizeRecipient strips a leading '+' and common separators and returns
// the remaining digits.
func normalizeRecipient(to string) (string, error) {
	s := strings.TrimSpace(to)
	s = strings.TrimPrefix(s, "+")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		default:
			return "", validationError(ErrInvalidRecipient, "recipient must contain digits only", "recipient", to)
		}
	}

	digits := b.String()
	if n := len(digits); n < minRecipientDigits || n > maxRecipientDigits {
		return "", validationError(ErrInvalidRecipient, "recipient must have 5..20 digits", "recipient", to)
	}
	return digits, nil
}

// validatePayload checks p against cfg and converts it to engine content.
func validatePayload(cfg MessageConfig, p Payload) (string, protocol.Content, error) {
	recipient, err := normalizeRecipient(p.To)
	if err != nil {
		return "", protocol.Content{}, err
	}

	hasText := p.Text != ""
	hasImage := p.Image != nil
	switch {
	case hasText && hasImage:
		return "", protocol.Content{}, validationError(ErrInvalidPayload, "payload must carry text or an image, not both")
	case !hasText && !hasImage:
		return "", protocol.Content{}, validationError(ErrInvalidPayload, "payload is empty")
	}

	if hasText {
		if strings.TrimSpace(p.Text) == "" {
			return "", protocol.Content{}, validationError(ErrInvalidPayload, "text is blank")
		}
		if n := utf8.RuneCountInString(p.Text); n > cfg.MaxTextLength {
			return "", protocol.Content{}, validationError(ErrInvalidPayload, "text too long",
				"length", strconv.Itoa(n), "max", strconv.Itoa(cfg.MaxTextLength))
		}
		return recipient, protocol.Content{Text: p.Text}, nil
	}

	img := p.Image
	if (img.URL == "") == (len(img.Data) == 0) {
		return "", protocol.Content{}, validationError(ErrInvalidPayload, "image needs exactly one of url or data")
	}
	if len(img.Data) > cfg.MaxImageBytes {
		return "", protocol.Content{}, validationError(ErrInvalidPayload, "image too large",
			"size", strconv.Itoa(len(img.Data)), "max", strconv.Itoa(cfg.MaxImageBytes))
	}
	if !allowedImageType(cfg.AllowedImageTypes, img.MimeType) {
		return "", protocol.Content{}, validationError(ErrInvalidPayload, "image type not allowed",
			"mime_type", img.MimeType)
	}
	if n := utf8.RuneCountInString(img.Caption); n > cfg.MaxCaptionLength {
		return "", protocol.Content{}, validationError(ErrInvalidPayload, "caption too long",
			"length", strconv.Itoa(n), "max", strconv.Itoa(cfg.MaxCaptionLength))
	}

	return recipient, protocol.Content{Image: &protocol.Image{
		URL:      img.URL,
		Data:     cloneBytes(img.Data),
		MimeType: img.MimeType,
		Caption:  img.Caption,
	}}, nil
}

func allowedImageType(allowed []string, mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	for _, a := range allowed {
		if strings.EqualFold(a, mime) {
			return true
		}
	}
	return false
}
