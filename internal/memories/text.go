// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package memories

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tejzpr/meetcute/internal/database"
)

// MaxDescriptionLength bounds a single narrated memory
const MaxDescriptionLength = 8000

var (
	controlRegex    = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	multiSpaceRegex = regexp.MustCompile(`\s+`)
)

// Sanitize trims whitespace and removes control characters
func Sanitize(text string) string {
	text = controlRegex.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ValidateDescription checks a sanitized description
func ValidateDescription(description string) error {
	if description == "" {
		return fmt.Errorf("%w: description cannot be empty", ErrInvalidMemory)
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description cannot exceed %d characters", ErrInvalidMemory, MaxDescriptionLength)
	}
	return nil
}

// Text joins the fields used for similarity: description, location, time period
func Text(m *database.Memory) string {
	parts := []string{m.Description}
	if m.Location != "" {
		parts = append(parts, m.Location)
	}
	if m.TimePeriod != "" {
		parts = append(parts, m.TimePeriod)
	}
	return strings.Join(parts, "\n")
}

// Summarize shortens a description for display to the other party
func Summarize(description string, maxRunes int) string {
	s := multiSpaceRegex.ReplaceAllString(strings.TrimSpace(description), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:maxRunes])
	if i := strings.LastIndex(cut, " "); i > maxRunes/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}
