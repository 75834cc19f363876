package mimes

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"docflow/internal/util"

	"github.com/klauspost/compress/zip"
)

// ArchiveEntry is one regular file inside an archive.
type ArchiveEntry struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

func IsArchive(mimeType string) bool {
	return mimeType == ZIP
}

// Expand lists the regular files of a ZIP archive in name order. Anything
// that is not a readable ZIP yields util.ErrNotACompressedFile.
func Expand(r io.ReaderAt, size int64) ([]ArchiveEntry, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("expand archive: %w", util.ErrNotACompressedFile)
		}
		return nil, fmt.Errorf("expand archive: %w: %w", util.ErrNotACompressedFile, err)
	}
	out := make([]ArchiveEntry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || skipEntry(f.Name) {
			continue
		}
		out = append(out, ArchiveEntry{
			Name: path.Base(f.Name),
			Size: int64(f.UncompressedSize64),
			Open: f.Open,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// skipEntry drops OS metadata that archivers add next to real files.
func skipEntry(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	base := path.Base(name)
	return strings.HasPrefix(base, ".") || base == "Thumbs.db"
}
