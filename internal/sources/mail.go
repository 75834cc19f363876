package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strings"
	"sync"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

const bodyLabel = "email_body.txt"

type rawMessage struct {
	ref  string
	body []byte
}

// mailbox is the protocol side of a mail source.
type mailbox interface {
	Fetch(ctx context.Context) ([]rawMessage, error)
	Delete(ctx context.Context, refs []string) error
}

// MailSource turns messages into items. A message is deleted from the
// server once every item it produced became a document.
type MailSource struct {
	cfg Config
	box mailbox
	log *slog.Logger

	mu       sync.Mutex
	pending  map[string]int
	complete []string
}

func NewMailSource(c Config, box mailbox) *MailSource {
	return &MailSource{cfg: c, box: box, log: slog.Default(), pending: map[string]int{}}
}

func (m *MailSource) WithLogger(l *slog.Logger) *MailSource {
	m.log = l
	return m
}

func (m *MailSource) Config() Config { return m.cfg }

func (m *MailSource) Items(ctx context.Context) ([]Item, error) {
	msgs, err := m.box.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", m.cfg.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = map[string]int{}
	m.complete = nil
	var out []Item
	for _, msg := range msgs {
		items, err := ParseMessage(m.cfg, msg.ref, bytes.NewReader(msg.body))
		if err != nil {
			m.log.Warn("unreadable message left on server", "source", m.cfg.ID, "ref", msg.ref, "error", err)
			continue
		}
		if len(items) == 0 {
			m.complete = append(m.complete, msg.ref)
			continue
		}
		m.pending[msg.ref] = len(items)
		out = append(out, items...)
	}
	return out, nil
}

func messageRef(itemRef string) string {
	ref, _, _ := strings.Cut(itemRef, "#")
	return ref
}

func (m *MailSource) Done(ctx context.Context, item Item) error {
	ref := messageRef(item.Ref)
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.pending[ref]
	if !ok {
		return nil
	}
	if n <= 1 {
		delete(m.pending, ref)
		m.complete = append(m.complete, ref)
		return nil
	}
	m.pending[ref] = n - 1
	return nil
}

// Finish deletes the fully ingested messages.
func (m *MailSource) Finish(ctx context.Context) error {
	m.mu.Lock()
	refs := m.complete
	m.complete = nil
	m.mu.Unlock()
	if len(refs) == 0 {
		return nil
	}
	if err := m.box.Delete(ctx, refs); err != nil {
		return fmt.Errorf("delete messages from %s: %w", m.cfg.ID, err)
	}
	return nil
}

type attachment struct {
	name        string
	contentType string
	data        []byte
}

func (a attachment) isJSON() bool {
	return a.contentType == "application/json" || strings.HasSuffix(strings.ToLower(a.name), ".json")
}

// ParseMessage splits a message into one item per non-empty attachment,
// plus its text body when the source stores bodies. From and subject are
// routed into metadata when configured; a JSON first attachment is read as
// a metadata manifest when the source asks for one.
func ParseMessage(c Config, ref string, r io.Reader) ([]Item, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	md := map[string]string{}
	if c.FromMetadata != "" {
		if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
			md[c.FromMetadata] = from[0].Address
		}
	}
	if c.SubjectMetadata != "" {
		if s, err := mr.Header.Subject(); err == nil && s != "" {
			md[c.SubjectMetadata] = s
		}
	}

	var (
		body        []byte
		attachments []attachment
	)
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			if ct == "text/plain" && body == nil {
				if body, err = io.ReadAll(p.Body); err != nil {
					return nil, fmt.Errorf("read body: %w", err)
				}
			}
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			ct, _, _ := h.ContentType()
			data, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("read attachment %q: %w", name, err)
			}
			attachments = append(attachments, attachment{name: name, contentType: ct, data: data})
		}
	}

	if c.MetadataAttachment && len(attachments) > 0 && attachments[0].isJSON() {
		var manifest map[string]string
		if err := json.Unmarshal(attachments[0].data, &manifest); err != nil {
			return nil, fmt.Errorf("metadata attachment %q: %w", attachments[0].name, err)
		}
		maps.Copy(md, manifest)
		attachments = attachments[1:]
	}

	var out []Item
	for i, a := range attachments {
		if len(a.data) == 0 {
			continue
		}
		label := a.name
		if label == "" {
			label = fmt.Sprintf("attachment-%d", i+1)
		}
		out = append(out, bytesItem(fmt.Sprintf("%s#%d", ref, len(out)), label, maps.Clone(md), a.data))
	}
	if c.StoreBody && len(bytes.TrimSpace(body)) > 0 {
		out = append(out, bytesItem(fmt.Sprintf("%s#%d", ref, len(out)), bodyLabel, maps.Clone(md), body))
	}
	return out, nil
}
