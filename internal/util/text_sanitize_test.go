package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeText(t *testing.T) {
	cases := map[string]string{
		"ab\x00cd\x01\x02\n\txy":     "abcd\n\txy",
		"\ufeffline one\r\nline two": "line one\nline two",
		"old mac\rline":              "old mac\nline",
		"page one\fpage two\x7f":     "page onepage two",
		"bad \xff\xfe bytes":         "bad  bytes",
		"  \n\t ":                    "",
	}
	for in, want := range cases {
		require.Equal(t, want, SanitizeText(in), "input %q", in)
	}
}
