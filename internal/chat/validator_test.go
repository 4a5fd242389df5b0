package chat

import (
	"strings"
	"testing"
)

func TestValidateContent_Valid(t *testing.T) {
	if err := ValidateContent("hello there"); err != nil {
		t.Errorf("unexpected error for valid content: %v", err)
	}
}

func TestValidateContent_EmptyAfterTrim(t *testing.T) {
	for _, content := range []string{"", "   ", "\n\t  "} {
		if err := ValidateContent(content); err == nil {
			t.Errorf("expected error for whitespace-only content %q", content)
		}
	}
}

func TestValidateContent_TooManyBytes(t *testing.T) {
	content := strings.Repeat("a", MaxMessageBytes+1)
	if err := ValidateContent(content); err == nil {
		t.Error("expected error for oversized content")
	}
}

func TestValidateContent_TooManyChars(t *testing.T) {
	// Multi-byte runes: under the byte cap is not enough, the rune count
	// must also hold.
	content := strings.Repeat("é", MaxTextChars+1)
	if len(content) <= MaxMessageBytes {
		if err := ValidateContent(content); err == nil {
			t.Error("expected error for content over the character limit")
		}
	}
}

func TestValidateContent_InvalidUTF8(t *testing.T) {
	if err := ValidateContent("abc\xff\xfe"); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}
