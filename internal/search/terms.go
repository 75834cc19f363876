package search

import (
	"strings"
	"unicode"
)

// Terms splits a query on whitespace. A double quote opening after
// whitespace starts a group that ends at a quote followed by whitespace;
// groups nest, so only the outermost quotes are dropped. Whitespace inside
// a term collapses to one space.
func Terms(q string) []string {
	var (
		terms []string
		cur   strings.Builder
		depth int
	)
	flush := func() {
		if t := strings.Join(strings.Fields(cur.String()), " "); t != "" {
			terms = append(terms, t)
		}
		cur.Reset()
	}
	rs := []rune(q)
	for i, r := range rs {
		afterSpace := i == 0 || unicode.IsSpace(rs[i-1])
		beforeSpace := i == len(rs)-1 || unicode.IsSpace(rs[i+1])
		switch {
		case r == '"' && depth > 0 && beforeSpace:
			depth--
			if depth == 0 {
				flush()
			} else {
				cur.WriteRune(r)
			}
		case r == '"' && afterSpace:
			if depth == 0 {
				flush()
			} else {
				cur.WriteRune(r)
			}
			depth++
		case unicode.IsSpace(r) && depth == 0:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return terms
}
