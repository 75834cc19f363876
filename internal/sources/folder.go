package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Folder offers the regular files of a directory, hidden files excluded.
// A staging folder is browsed interactively and keeps files unless told
// otherwise; a watch folder is polled and always removes what it uploaded.
type Folder struct {
	cfg    Config
	remove bool
}

func NewStaging(c Config) *Folder { return &Folder{cfg: c, remove: c.DeleteAfterUpload} }

func NewWatch(c Config) *Folder { return &Folder{cfg: c, remove: true} }

func (f *Folder) Config() Config { return f.cfg }

func (f *Folder) Items(ctx context.Context) ([]Item, error) {
	entries, err := os.ReadDir(f.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", f.cfg.Path, err)
	}
	var out []Item
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		out = append(out, f.item(e.Name()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

func (f *Folder) item(name string) Item {
	path := filepath.Join(f.cfg.Path, name)
	return Item{
		Ref:   name,
		Label: name,
		open:  func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// Item returns one file by name. Names escaping the folder are refused.
func (f *Folder) Item(name string) (Item, error) {
	if !fs.ValidPath(name) || strings.Contains(name, "/") {
		return Item{}, fmt.Errorf("staging file %q: %w", name, fs.ErrInvalid)
	}
	st, err := os.Stat(filepath.Join(f.cfg.Path, name))
	if err != nil {
		return Item{}, fmt.Errorf("staging file %q: %w", name, err)
	}
	if !st.Mode().IsRegular() {
		return Item{}, fmt.Errorf("staging file %q: %w", name, fs.ErrInvalid)
	}
	return f.item(name), nil
}

// Preview returns up to n leading bytes of a file.
func (f *Folder) Preview(name string, n int64) ([]byte, error) {
	it, err := f.Item(name)
	if err != nil {
		return nil, err
	}
	rc, err := it.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, n))
}

func (f *Folder) Done(ctx context.Context, item Item) error {
	if !f.remove {
		return nil
	}
	err := os.Remove(filepath.Join(f.cfg.Path, item.Ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
