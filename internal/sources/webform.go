package sources

import (
	"context"
	"io"
	"mime/multipart"
	"sort"
	"strconv"
	"strings"
)

const metadataField = "metadata."

// WebForm offers the files of one multipart upload. Form values named
// metadata.<name> become document metadata; label overrides the file name
// when a single file is sent; expand answers the archive question.
type WebForm struct {
	cfg  Config
	form *multipart.Form
}

func NewWebForm(c Config, form *multipart.Form) *WebForm {
	return &WebForm{cfg: c, form: form}
}

func (w *WebForm) Config() Config { return w.cfg }

func (w *WebForm) value(name string) string {
	if vs := w.form.Value[name]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

func (w *WebForm) Items(ctx context.Context) ([]Item, error) {
	md := map[string]string{}
	for k, vs := range w.form.Value {
		if name, ok := strings.CutPrefix(k, metadataField); ok && name != "" && len(vs) > 0 {
			md[name] = vs[0]
		}
	}
	expand, _ := strconv.ParseBool(w.value("expand"))

	fields := make([]string, 0, len(w.form.File))
	for k := range w.form.File {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	var files []*multipart.FileHeader
	for _, k := range fields {
		files = append(files, w.form.File[k]...)
	}

	out := make([]Item, 0, len(files))
	for i, fh := range files {
		fh := fh
		label := fh.Filename
		if l := w.value("label"); l != "" && len(files) == 1 {
			label = l
		}
		item := Item{
			Ref:      strconv.Itoa(i),
			Label:    label,
			Metadata: md,
			Expand:   expand,
		}
		item.open = func() (io.ReadCloser, error) { return fh.Open() }
		out = append(out, item)
	}
	return out, nil
}

func (w *WebForm) Done(context.Context, Item) error { return nil }
