package mimes

import (
	"bytes"
	"io"
	"testing"

	"docflow/internal/testutil"
	"docflow/internal/util"

	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		mime string
		enc  string
	}{
		{"pdf", testutil.PDF("hello"), PDF, "binary"},
		{"text", []byte("plain words\n"), Text, "utf-8"},
		{"zip", testutil.Zip(testutil.ZipEntry{Name: "a.txt", Data: []byte("a")}), ZIP, "binary"},
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"), "image/png", "binary"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mt, enc, err := Detect(bytes.NewReader(tc.in))
			require.NoError(t, err)
			require.Equal(t, tc.mime, mt)
			require.Equal(t, tc.enc, enc)

			mt, enc = DetectBytes(tc.in)
			require.Equal(t, tc.mime, mt)
			require.Equal(t, tc.enc, enc)
		})
	}
}

func TestCountPages(t *testing.T) {
	c := NewCounters()

	doc := testutil.PDF("one", "two", "three")
	n, err := c.Count(PDF, bytes.NewReader(doc), int64(len(doc)))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// images and unknown types hold a single page
	n, err = c.Count("image/tiff", bytes.NewReader([]byte("II*\x00")), 4)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = c.Count("application/octet-stream", bytes.NewReader(nil), 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = c.Count(PDF, bytes.NewReader([]byte("not a pdf")), 9)
	require.Error(t, err)

	broken := testutil.MalformedPDF("a", "b")
	require.NotPanics(t, func() {
		_, err = CountPDFPages(bytes.NewReader(broken), int64(len(broken)))
	})
	require.ErrorContains(t, err, "open pdf")

	c.Register("image/tiff", func(io.ReaderAt, int64) (int, error) { return 4, nil })
	n, err = c.Count("image/tiff", bytes.NewReader(nil), 0)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestExpand(t *testing.T) {
	archive := testutil.Zip(
		testutil.ZipEntry{Name: "b.pdf", Data: testutil.PDF("b")},
		testutil.ZipEntry{Name: "dir/a.pdf", Data: testutil.PDF("a")},
		testutil.ZipEntry{Name: "__MACOSX/dir/._a.pdf", Data: []byte("junk")},
		testutil.ZipEntry{Name: ".DS_Store", Data: []byte("junk")},
	)
	entries, err := Expand(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a.pdf", entries[0].Name)
	require.Equal(t, "b.pdf", entries[1].Name)

	rc, err := entries[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, testutil.PDF("a"), b)
}

func TestExpandNotAnArchive(t *testing.T) {
	doc := testutil.PDF("x")
	_, err := Expand(bytes.NewReader(doc), int64(len(doc)))
	require.ErrorIs(t, err, util.ErrNotACompressedFile)
	require.True(t, IsArchive(ZIP))
	require.False(t, IsArchive(PDF))
}
