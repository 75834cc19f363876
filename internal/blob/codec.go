package blob

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Codec transforms blob bytes at rest. Readers always see the original
// bytes.
type Codec interface {
	Name() string
	Encode(dst io.Writer) (io.WriteCloser, error)
	Decode(src io.ReaderAt, size int64) (io.ReadCloser, error)
}

func codecFor(name string) (Codec, error) {
	switch name {
	case "", "none":
		return Plain{}, nil
	case "zip":
		return Zip{}, nil
	case "zstd":
		return Zstd{}, nil
	default:
		return nil, fmt.Errorf("unknown storage compression %q", name)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type Plain struct{}

func (Plain) Name() string { return "none" }

func (Plain) Encode(dst io.Writer) (io.WriteCloser, error) { return nopWriteCloser{dst}, nil }

func (Plain) Decode(src io.ReaderAt, size int64) (io.ReadCloser, error) {
	return io.NopCloser(io.NewSectionReader(src, 0, size)), nil
}

// zipEntry is the name of the single member of a zipped blob.
const zipEntry = "blob"

// Zip stores each blob as a single-entry deflate archive.
type Zip struct{}

func (Zip) Name() string { return "zip" }

type zipWriter struct {
	io.Writer
	zw *zip.Writer
}

func (w *zipWriter) Close() error { return w.zw.Close() }

func (Zip) Encode(dst io.Writer) (io.WriteCloser, error) {
	zw := zip.NewWriter(dst)
	w, err := zw.Create(zipEntry)
	if err != nil {
		return nil, fmt.Errorf("create zip entry: %w", err)
	}
	return &zipWriter{Writer: w, zw: zw}, nil
}

func (Zip) Decode(src io.ReaderAt, size int64) (io.ReadCloser, error) {
	zr, err := zip.NewReader(src, size)
	if err != nil {
		return nil, fmt.Errorf("open zipped blob: %w", err)
	}
	if len(zr.File) != 1 {
		return nil, errors.New("zipped blob must hold exactly one entry")
	}
	return zr.File[0].Open()
}

type Zstd struct{}

func (Zstd) Name() string { return "zstd" }

func (Zstd) Encode(dst io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(dst)
}

type zstdReader struct {
	*zstd.Decoder
}

func (r zstdReader) Close() error {
	r.Decoder.Close()
	return nil
}

func (Zstd) Decode(src io.ReaderAt, size int64) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(io.NewSectionReader(src, 0, size))
	if err != nil {
		return nil, fmt.Errorf("open zstd blob: %w", err)
	}
	return zstdReader{dec}, nil
}
