package util

import "strings"

// SanitizeText prepares extracted page text for storage: invalid UTF-8 and
// NUL are dropped (Postgres text rejects both), line endings become \n, and
// the form feeds extractors put between pages are removed along with other
// control characters.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "")
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		switch {
		case ch == '\n' || ch == '\t':
			b.WriteRune(ch)
		case ch == '\r':
			b.WriteByte('\n')
		case ch < 0x20 || ch == 0x7f:
		default:
			b.WriteRune(ch)
		}
	}
	return strings.TrimSpace(b.String())
}
