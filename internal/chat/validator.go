package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count
)

// ValidateContent checks that message or comment text meets content
// requirements. Whitespace-only text counts as empty.
func ValidateContent(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("%w: content exceeds %d byte limit", ErrValidation, MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: content contains invalid UTF-8", ErrValidation)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("%w: content exceeds %d character limit", ErrValidation, MaxTextChars)
	}
	return nil
}

// ValidateID rejects empty identifiers.
func ValidateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	return nil
}
