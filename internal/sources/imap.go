package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

type imapMailbox struct {
	cfg Config
}

func newIMAPMailbox(c Config) *imapMailbox { return &imapMailbox{cfg: c} }

func (m *imapMailbox) dial() (*client.Client, error) {
	port := m.cfg.Port
	if port == 0 {
		port = 143
		if m.cfg.SSL {
			port = 993
		}
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(port))
	var (
		c   *client.Client
		err error
	)
	if m.cfg.SSL {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}
	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	mailbox := m.cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}
	return c, nil
}

// Fetch reads every message not flagged deleted, without marking it seen.
func (m *imapMailbox) Fetch(ctx context.Context) ([]rawMessage, error) {
	c, err := m.dial()
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.DeletedFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seq, []imap.FetchItem{imap.FetchUid, section.FetchItem()}, messages)
	}()

	var (
		out     []rawMessage
		readErr error
	)
	// the channel must be drained even after a failure
	for msg := range messages {
		lit := msg.GetBody(section)
		if lit == nil || readErr != nil || ctx.Err() != nil {
			continue
		}
		b, err := io.ReadAll(lit)
		if err != nil {
			readErr = fmt.Errorf("read message %d: %w", msg.Uid, err)
			continue
		}
		out = append(out, rawMessage{ref: strconv.FormatUint(uint64(msg.Uid), 10), body: b})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	if err := errors.Join(readErr, ctx.Err()); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *imapMailbox) Delete(ctx context.Context, refs []string) error {
	seq := new(imap.SeqSet)
	for _, r := range refs {
		uid, err := strconv.ParseUint(r, 10, 32)
		if err != nil {
			return fmt.Errorf("imap uid %q: %w", r, err)
		}
		seq.AddNum(uint32(uid))
	}
	c, err := m.dial()
	if err != nil {
		return err
	}
	defer c.Logout()
	flags := []interface{}{imap.DeletedFlag}
	if err := c.UidStore(seq, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		return fmt.Errorf("imap flag deleted: %w", err)
	}
	if err := c.Expunge(nil); err != nil {
		return fmt.Errorf("imap expunge: %w", err)
	}
	return nil
}
