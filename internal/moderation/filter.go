// Package moderation screens usernames and message text against a
// lexicon of prohibited substrings.
package moderation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maskChar = "*"

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{2,20}$`)
	markupStripper  = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "")
)

type Filter struct {
	lexicon  []string
	patterns []*regexp.Regexp
}

// NewFilter builds a Filter over the given lexicon. Entries are matched as
// plain substrings, case-insensitively, with no word boundaries.
func NewFilter(lexicon []string) *Filter {
	f := &Filter{}
	for _, word := range lexicon {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}

		f.lexicon = append(f.lexicon, word)
		f.patterns = append(f.patterns, regexp.MustCompile("(?i)"+regexp.QuoteMeta(word)))
	}

	return f
}

func (f *Filter) ValidateUsername(s string) bool {
	return usernamePattern.MatchString(s) && !f.ContainsProhibited(s)
}

func (f *Filter) ContainsProhibited(text string) bool {
	lower := strings.ToLower(text)
	for _, word := range f.lexicon {
		if strings.Contains(lower, word) {
			return true
		}
	}

	return false
}

// Redact masks every occurrence of every lexicon entry with a run of mask
// characters of the same length. Entries found inside longer words are
// masked too.
func (f *Filter) Redact(text string) string {
	for _, p := range f.patterns {
		text = p.ReplaceAllStringFunc(text, func(match string) string {
			return strings.Repeat(maskChar, utf8.RuneCountInString(match))
		})
	}

	return text
}

// Sanitize strips angle brackets and quotes and trims surrounding whitespace.
func Sanitize(text string) string {
	return strings.TrimSpace(markupStripper.Replace(text))
}
