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

// ValidateContent checks that message content meets the send requirements:
// non-empty after trimming, within size limits, and valid UTF-8.
func ValidateContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) == 0 {
		return fmt.Errorf("message content is empty")
	}
	if len(trimmed) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(trimmed) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(trimmed) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
