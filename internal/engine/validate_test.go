package engine

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/lazypower/mnemo/internal/errs"
)

func TestValidateTags(t *testing.T) {
	got, err := validateTags([]string{" Project X ", "x", "x", "Ünïcode"})
	if err != nil {
		t.Fatalf("validateTags: %v", err)
	}
	want := []string{"Project X", "x", "x", "Ünïcode"}
	if !slices.Equal(got, want) {
		t.Errorf("validateTags = %q, want %q", got, want)
	}

	empty, err := validateTags(nil)
	if err != nil || empty == nil {
		t.Errorf("validateTags(nil) = %v, %v; want empty, not nil", empty, err)
	}

	bad := [][]string{
		{"ok", "  "},
		{strings.Repeat("é", maxTagChars+1)},
		make([]string, maxTags+1),
		{"bad\xff"},
	}
	for _, tags := range bad {
		if _, err := validateTags(tags); !errors.Is(err, errs.ErrValidation) {
			t.Errorf("validateTags(%q) err = %v, want validation", tags, err)
		}
	}
	if _, err := validateTags([]string{strings.Repeat("é", maxTagChars)}); err != nil {
		t.Errorf("tag at the length limit rejected: %v", err)
	}
}

func TestValidateContent(t *testing.T) {
	if _, err := validateContent(" \n "); err == nil {
		t.Error("blank content should fail")
	}
	if _, err := validateContent(strings.Repeat("x", maxContentChars+1)); err == nil {
		t.Error("oversized content should fail")
	}
	got, err := validateContent("  hello  ")
	if err != nil || got != "hello" {
		t.Errorf("validateContent = %q, %v", got, err)
	}
}

func TestTruncateClean(t *testing.T) {
	s := "hello world this is a test string"
	result := truncateClean(s, 15)
	if len(result) > 15 {
		t.Errorf("truncateClean result too long: %d", len(result))
	}
	// Should cut at word boundary
	if strings.HasSuffix(result, " ") {
		t.Error("truncated result has trailing space")
	}
}

func TestTruncateCleanMultibyte(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
	}{
		{strings.Repeat("日本語", 100), snippetChars},
		{strings.Repeat("日本語", 100), 7},
		{"ab" + strings.Repeat("é", 50), 5},
	}
	for _, tt := range tests {
		got := truncateClean(tt.input, tt.maxLen)
		if !utf8.ValidString(got) {
			t.Errorf("truncateClean(%d) produced invalid UTF-8: %q", tt.maxLen, got)
		}
		if len(got) > tt.maxLen || got == "" {
			t.Errorf("truncateClean(%d) = %d bytes", tt.maxLen, len(got))
		}
	}
}
