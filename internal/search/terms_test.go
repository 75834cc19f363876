package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTerms(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "   ", want: nil},
		{in: "mayan edms", want: []string{"mayan", "edms"}},
		{in: `"mayan   edms" invoice`, want: []string{"mayan edms", "invoice"}},
		{in: `a "b c" d`, want: []string{"a", "b c", "d"}},
		{in: `"foo "bar" baz"`, want: []string{`foo "bar" baz`}},
		{in: `"unterminated group`, want: []string{"unterminated group"}},
		{in: `say"what`, want: []string{`say"what`}},
		{in: `""`, want: nil},
		{in: "tab\tand\nnewline", want: []string{"tab", "and", "newline"}},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			require.Equal(t, c.want, Terms(c.in))
		})
	}
}

func TestTermsProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := rapid.StringOf(rapid.SampledFrom([]rune{'a', 'b', ' ', '\t', '"', 'é'})).Draw(t, "q")
		for _, term := range Terms(q) {
			require.NotEmpty(t, term)
			require.Equal(t, strings.TrimSpace(term), term)
			require.NotContains(t, term, "  ")
			require.NotContains(t, term, "\t")
		}
		if !strings.Contains(q, `"`) {
			want := strings.Fields(q)
			if len(want) == 0 {
				want = nil
			}
			require.Equal(t, want, Terms(q))
		}
	})
}

func TestLikePatternsEscape(t *testing.T) {
	require.Equal(t, []string{`%50\%%`, `%a\_b%`, `%c\\d%`}, likePatterns([]string{"50%", "a_b", `c\d`}))
}
