package feed

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	blockTagRe = regexp.MustCompile(`(?i)<\s*/?\s*(br|p|div|li|ul|ol|h[1-6]|tr|td|th|blockquote|hr|pre|table)\b[^>]*>`)
	htmlTagRe  = regexp.MustCompile(`<[^>]*>`)
	entityRe   = regexp.MustCompile(`^&(#[0-9]+|#[xX][0-9a-fA-F]+|[A-Za-z][A-Za-z0-9]*);`)
)

// CleanText strips HTML tags, decodes entities and collapses every run of
// whitespace (including non-breaking spaces) into a single space.
func CleanText(s string) string {
	s = blockTagRe.ReplaceAllString(s, " ")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// sanitizeXML repairs the two defects that most often make otherwise
// readable feeds fail to parse: characters outside the XML 1.0 range and
// ampersands that do not start an entity reference.
func sanitizeXML(data []byte) []byte {
	var b strings.Builder
	b.Grow(len(data))

	s := string(data)
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimLeft(s, " \t\r\n")

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			// invalid byte, dropped
		case r == '&':
			if entityRe.MatchString(s[i:]) {
				b.WriteByte('&')
			} else {
				b.WriteString("&amp;")
			}
		case isXMLChar(r):
			b.WriteRune(r)
		}
		i += size
	}
	return []byte(b.String())
}

func isXMLChar(r rune) bool {
	return r == '\t' || r == '\n' || r == '\r' ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}
