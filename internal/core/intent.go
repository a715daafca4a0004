package core

import (
	"fmt"
	"strings"
	"unicode"
)

// MatchMode selects how offer replies are matched against the keyword sets.
type MatchMode string

const (
	// MatchSubstring treats a keyword as present when it occurs anywhere in
	// the lower-cased reply.
	MatchSubstring MatchMode = "substring"
	// MatchWord only matches whole words or whole word sequences.
	MatchWord MatchMode = "word"
)

var (
	affirmativeKeywords = []string{"yes", "yeah", "sure", "ok", "please", "yep", "yup", "do it", "great", "awesome", "send", "link", "document"}
	negativeKeywords    = []string{"no", "not", "don't", "dont", "stop", "nah", "nope", "nevermind"}
)

func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchSubstring:
		return MatchSubstring, nil
	case MatchWord:
		return MatchWord, nil
	}
	return "", fmt.Errorf("unknown offer match mode %q", s)
}

// IsAffirmative reports whether a reply to a document offer accepts it: at
// least one affirmative keyword and no negative keyword.
func IsAffirmative(reply string, mode MatchMode) bool {
	reply = strings.ToLower(strings.ReplaceAll(reply, "’", "'"))
	contains := strings.Contains
	if mode == MatchWord {
		words := " " + strings.Join(tokenize(reply), " ") + " "
		contains = func(_ string, kw string) bool {
			return strings.Contains(words, " "+kw+" ")
		}
	}

	var yes bool
	for _, kw := range affirmativeKeywords {
		if contains(reply, kw) {
			yes = true
			break
		}
	}
	if !yes {
		return false
	}
	for _, kw := range negativeKeywords {
		if contains(reply, kw) {
			return false
		}
	}
	return true
}

// tokenize splits on anything that is not a letter, digit or apostrophe.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
