package engine

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lazypower/mnemo/internal/errs"
)

// Content size limits.
const (
	maxContentChars = 32000
	maxTags         = 32
	maxTagChars     = 64
	snippetChars    = 200
)

// validateTags trims surrounding whitespace from each tag and enforces the
// count and length limits. Order, case and duplicates are preserved.
// Never returns nil.
func validateTags(tags []string) ([]string, error) {
	if len(tags) > maxTags {
		return nil, errs.Validation("%d tags, limit %d", len(tags), maxTags)
	}
	out := make([]string, 0, len(tags))
	for i, t := range tags {
		t = strings.TrimSpace(t)
		switch {
		case t == "":
			return nil, errs.Validation("tag %d is empty", i)
		case !utf8.ValidString(t):
			return nil, errs.Validation("tag %d is not valid UTF-8", i)
		case utf8.RuneCountInString(t) > maxTagChars:
			return nil, errs.Validation("tag %d is longer than %d chars", i, maxTagChars)
		}
		out = append(out, t)
	}
	return out, nil
}

// validateContent trims content and rejects empty or oversized input.
func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errs.Validation("content is empty")
	}
	if len(content) > maxContentChars {
		return "", errs.Validation("content is %d chars, limit %d", len(content), maxContentChars)
	}
	return content, nil
}

func validateUnit(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return errs.Validation("%s %v out of range [0,1]", name, v)
	}
	return nil
}

// truncateClean cuts s to at most maxLen bytes, backing up to a word boundary.
func truncateClean(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	// Back up to last space
	truncated := s[:maxLen]
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > maxLen/2 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
