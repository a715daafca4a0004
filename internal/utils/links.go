package utils

import (
	"fmt"
	"strings"
)

// Segment is one piece of message text: either plain text or a link.
type Segment struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
	Link bool   `json:"link,omitempty"`
}

// IsLink reports whether the segment came from a link token. The URL of a
// link may be empty.
func (s Segment) IsLink() bool { return s.Link }

// FormatLink renders the inline link token understood by ParseLinks.
func FormatLink(text, url string) string {
	return fmt.Sprintf("[%s](%s)", text, url)
}

// ParseLinks splits text into plain and link segments. A link is a literal
// "[", any run of non-"]" characters, a literal "](", any run of non-")"
// characters and a literal ")". Either run may be empty. Everything else is plain text. Adjacent plain
// text is merged into one segment.
func ParseLinks(text string) []Segment {
	var (
		segments []Segment
		plain    strings.Builder
	)
	flush := func() {
		if plain.Len() > 0 {
			segments = append(segments, Segment{Text: plain.String()})
			plain.Reset()
		}
	}

	i := 0
	for i < len(text) {
		if text[i] != '[' {
			plain.WriteByte(text[i])
			i++
			continue
		}
		label, url, n, ok := matchLink(text[i:])
		if !ok {
			plain.WriteByte(text[i])
			i++
			continue
		}
		flush()
		segments = append(segments, Segment{Text: label, URL: url, Link: true})
		i += n
	}
	flush()
	return segments
}

// matchLink reports whether s starts with a link token and returns its parts
// and byte length.
func matchLink(s string) (label, url string, n int, ok bool) {
	closeLabel := strings.IndexByte(s, ']')
	if closeLabel < 0 || closeLabel+1 >= len(s) || s[closeLabel+1] != '(' {
		return "", "", 0, false
	}
	rest := s[closeLabel+2:]
	closeURL := strings.IndexByte(rest, ')')
	if closeURL < 0 {
		return "", "", 0, false
	}
	return s[1:closeLabel], rest[:closeURL], closeLabel + 2 + closeURL + 1, true
}
