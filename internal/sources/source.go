// Package sources produces the byte streams that become documents: web
// form uploads, staging and watch folders, and IMAP or POP3 mailboxes.
package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"docflow/internal/documents"
	"docflow/internal/util"

	"gopkg.in/yaml.v3"
)

const (
	KindWebForm = "webform"
	KindStaging = "staging"
	KindWatch   = "watch"
	KindIMAP    = "imap"
	KindPOP3    = "pop3"
)

// Item is one stream a source offers, with the label and metadata it
// suggests for the document.
type Item struct {
	Label    string
	Metadata map[string]string
	// Ref identifies the item to its source, e.g. a file name or a mail
	// UID with a part index.
	Ref string
	// Expand answers the archive question for sources with the ask policy.
	Expand bool
	open   func() (io.ReadCloser, error)
}

func (i Item) Open() (io.ReadCloser, error) {
	if i.open == nil {
		return nil, fmt.Errorf("item %s has no content", i.Ref)
	}
	return i.open()
}

func bytesItem(ref, label string, md map[string]string, data []byte) Item {
	return Item{Ref: ref, Label: label, Metadata: md, open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

type Source interface {
	Config() Config
	// Items lists what the source currently offers.
	Items(ctx context.Context) ([]Item, error)
	// Done is called once an item became a document.
	Done(ctx context.Context, item Item) error
}

// Finisher is implemented by sources that settle their backend once per
// run, after every Done.
type Finisher interface {
	Finish(ctx context.Context) error
}

type Config struct {
	ID       string        `yaml:"id"`
	Kind     string        `yaml:"kind"`
	Label    string        `yaml:"label"`
	Enabled  bool          `yaml:"enabled"`
	TypeID   string        `yaml:"document_type"`
	Interval time.Duration `yaml:"interval"`
	// Uncompress is the archive policy: always, never or ask.
	Uncompress string `yaml:"uncompress"`

	Path              string `yaml:"path"`
	DeleteAfterUpload bool   `yaml:"delete_after_upload"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	SSL      bool   `yaml:"ssl"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Mailbox  string `yaml:"mailbox"`

	// MetadataAttachment treats a JSON first attachment as a metadata
	// manifest for the rest of the message.
	MetadataAttachment bool   `yaml:"metadata_attachment"`
	StoreBody          bool   `yaml:"store_body"`
	FromMetadata       string `yaml:"from_metadata"`
	SubjectMetadata    string `yaml:"subject_metadata"`
}

// Polled reports whether the source runs on an interval.
func (c Config) Polled() bool {
	return c.Kind == KindWatch || c.Kind == KindIMAP || c.Kind == KindPOP3
}

func (c Config) Policy() documents.ArchivePolicy {
	p, err := documents.ParseArchivePolicy(c.Uncompress)
	if err != nil {
		return documents.ArchiveNever
	}
	return p
}

func (c Config) Validate() error {
	if c.ID == "" {
		return util.NewValidationError("id", "required")
	}
	if c.TypeID == "" {
		return util.NewValidationError("document_type", "source %s: required", c.ID)
	}
	if _, err := documents.ParseArchivePolicy(c.Uncompress); err != nil {
		return err
	}
	switch c.Kind {
	case KindWebForm:
	case KindStaging, KindWatch:
		if c.Path == "" {
			return util.NewValidationError("path", "source %s: required", c.ID)
		}
	case KindIMAP, KindPOP3:
		if c.Host == "" || c.Username == "" {
			return util.NewValidationError("host", "source %s: host and username are required", c.ID)
		}
	default:
		return util.NewValidationError("kind", "source %s: unknown kind %q", c.ID, c.Kind)
	}
	if c.Polled() && c.Interval <= 0 {
		return util.NewValidationError("interval", "source %s: must be positive", c.ID)
	}
	return nil
}

type file struct {
	Sources []Config `yaml:"sources"`
}

// LoadFile reads source definitions from a YAML file.
func LoadFile(path string) ([]Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	seen := map[string]struct{}{}
	for _, c := range f.Sources {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("source %s: %w", c.ID, util.ErrConflict)
		}
		seen[c.ID] = struct{}{}
	}
	return f.Sources, nil
}

// New builds a polled or staging source from its definition.
func New(c Config) (Source, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Kind {
	case KindStaging:
		return NewStaging(c), nil
	case KindWatch:
		return NewWatch(c), nil
	case KindIMAP:
		return NewMailSource(c, newIMAPMailbox(c)), nil
	case KindPOP3:
		return NewMailSource(c, newPOP3Mailbox(c)), nil
	}
	return nil, util.NewValidationError("kind", "source %s: %s sources are built per request", c.ID, c.Kind)
}

type single struct {
	Source
	item Item
}

func (s single) Items(context.Context) ([]Item, error) { return []Item{s.item}, nil }

// Only narrows src to one of its items, as when an operator uploads a single
// staging file.
func Only(src Source, item Item) Source { return single{Source: src, item: item} }
