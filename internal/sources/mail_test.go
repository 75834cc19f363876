package sources

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type part struct {
	name, contentType, data string
}

func message(subject, body string, parts ...part) []byte {
	var b strings.Builder
	b.WriteString("From: Alice <alice@example.com>\r\n")
	b.WriteString("To: inbox@example.com\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"frontier\"\r\n\r\n")
	if body != "" {
		b.WriteString("--frontier\r\n")
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(body + "\r\n")
	}
	for _, p := range parts {
		b.WriteString("--frontier\r\n")
		b.WriteString("Content-Type: " + p.contentType + "\r\n")
		b.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=%q\r\n", p.name))
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		b.WriteString(base64.StdEncoding.EncodeToString([]byte(p.data)) + "\r\n")
	}
	b.WriteString("--frontier--\r\n")
	return []byte(b.String())
}

func readItem(t *testing.T, it Item) string {
	t.Helper()
	rc, err := it.Open()
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func labels(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Label
	}
	return out
}

func TestParseMessageManifestBodyAndRouting(t *testing.T) {
	cfg := Config{
		ID:                 "mail",
		MetadataAttachment: true,
		StoreBody:          true,
		FromMetadata:       "sender",
		SubjectMetadata:    "subject",
	}
	raw := message("Invoice 42", "Please file this.",
		part{"meta.json", "application/json", `{"year":"2024"}`},
		part{"a.pdf", "application/pdf", "%PDF-a"},
		part{"b.pdf", "application/pdf", "%PDF-b"},
	)

	items, err := ParseMessage(cfg, "7", strings.NewReader(string(raw)))
	require.NoError(t, err)
	require.Equal(t, []string{"a.pdf", "b.pdf", bodyLabel}, labels(items))
	require.Equal(t, "%PDF-a", readItem(t, items[0]))
	require.Contains(t, readItem(t, items[2]), "Please file this.")
	for i, it := range items {
		require.Equal(t, fmt.Sprintf("7#%d", i), it.Ref)
		require.Equal(t, map[string]string{
			"year":    "2024",
			"sender":  "alice@example.com",
			"subject": "Invoice 42",
		}, it.Metadata)
	}

	items[0].Metadata["year"] = "1999"
	require.Equal(t, "2024", items[1].Metadata["year"])
}

func TestParseMessageWithoutManifest(t *testing.T) {
	raw := message("s", "ignored body",
		part{"meta.json", "application/json", `{"year":"2024"}`},
		part{"a.pdf", "application/pdf", "%PDF"},
	)
	items, err := ParseMessage(Config{ID: "mail"}, "1", strings.NewReader(string(raw)))
	require.NoError(t, err)
	require.Equal(t, []string{"meta.json", "a.pdf"}, labels(items))
	require.Empty(t, items[0].Metadata)
}

func TestParseMessageNonJSONFirstAttachmentIsADocument(t *testing.T) {
	raw := message("s", "",
		part{"bundle.zip", "application/zip", "PK..."},
		part{"a.pdf", "application/pdf", "%PDF"},
	)
	items, err := ParseMessage(Config{ID: "mail", MetadataAttachment: true}, "1", strings.NewReader(string(raw)))
	require.NoError(t, err)
	require.Equal(t, []string{"bundle.zip", "a.pdf"}, labels(items))
}

func TestParseMessageBadManifestIsAnError(t *testing.T) {
	raw := message("s", "", part{"meta.json", "application/json", "{not json"})
	_, err := ParseMessage(Config{ID: "mail", MetadataAttachment: true}, "1", strings.NewReader(string(raw)))
	require.Error(t, err)
}

type fakeMailbox struct {
	mu       sync.Mutex
	messages map[string][]byte
	deletes  int
}

func (f *fakeMailbox) Fetch(context.Context) ([]rawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs := make([]string, 0, len(f.messages))
	for r := range f.messages {
		refs = append(refs, r)
	}
	slices.Sort(refs)
	out := make([]rawMessage, 0, len(refs))
	for _, r := range refs {
		out = append(out, rawMessage{ref: r, body: f.messages[r]})
	}
	return out, nil
}

func (f *fakeMailbox) Delete(_ context.Context, refs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for _, r := range refs {
		delete(f.messages, r)
	}
	return nil
}

func (f *fakeMailbox) refs() []string {
	msgs, _ := f.Fetch(context.Background())
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ref
	}
	return out
}

func TestMailSourceDeletesOnlyFullyIngestedMessages(t *testing.T) {
	box := &fakeMailbox{messages: map[string][]byte{
		"1": message("one", "", part{"a.pdf", "application/pdf", "a"}, part{"bad.pdf", "application/pdf", "b"}),
		"2": message("two", "", part{"c.pdf", "application/pdf", "c"}),
		"3": message("empty", "just text"),
		"4": message("bad", "", part{"meta.json", "application/json", "{broken"}),
	}}
	cfg := Config{ID: "inbox", Kind: KindIMAP, TypeID: "t", Interval: 1, MetadataAttachment: true}
	up := &fakeUploader{fail: map[string]bool{"bad.pdf": true}}
	in := NewIngestor(up, newLocks(t), nil)
	src := NewMailSource(cfg, box)

	rep, err := in.Ingest(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, []string{"a.pdf", "c.pdf"}, up.labels())
	// the unreadable message stays for an operator; "1" waits for bad.pdf
	require.Equal(t, []string{"1", "4"}, box.refs())

	up.fail = nil
	_, err = in.Ingest(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, []string{"4"}, box.refs())
	require.Equal(t, 2, box.deletes)
}
