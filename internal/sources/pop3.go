package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/knadh/go-pop3"
)

// pop3Mailbox names messages by UIDL, since message numbers only hold
// within one session and deletion happens in a later one.
type pop3Mailbox struct {
	cfg Config
}

func newPOP3Mailbox(c Config) *pop3Mailbox { return &pop3Mailbox{cfg: c} }

func (m *pop3Mailbox) conn() (*pop3.Conn, error) {
	port := m.cfg.Port
	if port == 0 {
		port = 110
		if m.cfg.SSL {
			port = 995
		}
	}
	p := pop3.New(pop3.Opt{
		Host:        m.cfg.Host,
		Port:        port,
		TLSEnabled:  m.cfg.SSL,
		DialTimeout: 30 * time.Second,
	})
	c, err := p.NewConn()
	if err != nil {
		return nil, fmt.Errorf("dial pop3 %s:%d: %w", m.cfg.Host, port, err)
	}
	if err := c.Auth(m.cfg.Username, m.cfg.Password); err != nil {
		_ = c.Quit()
		return nil, fmt.Errorf("pop3 auth: %w", err)
	}
	return c, nil
}

func (m *pop3Mailbox) Fetch(ctx context.Context) ([]rawMessage, error) {
	c, err := m.conn()
	if err != nil {
		return nil, err
	}
	defer c.Quit()
	ids, err := c.Uidl(0)
	if err != nil {
		return nil, fmt.Errorf("pop3 uidl: %w", err)
	}
	out := make([]rawMessage, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf, err := c.RetrRaw(id.ID)
		if err != nil {
			return nil, fmt.Errorf("pop3 retr %d: %w", id.ID, err)
		}
		out = append(out, rawMessage{ref: id.UID, body: buf.Bytes()})
	}
	return out, nil
}

// Delete marks the messages and commits with QUIT.
func (m *pop3Mailbox) Delete(ctx context.Context, refs []string) error {
	want := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		want[r] = struct{}{}
	}
	c, err := m.conn()
	if err != nil {
		return err
	}
	ids, err := c.Uidl(0)
	if err != nil {
		_ = c.Quit()
		return fmt.Errorf("pop3 uidl: %w", err)
	}
	for _, id := range ids {
		if _, ok := want[id.UID]; !ok {
			continue
		}
		if err := c.Dele(id.ID); err != nil {
			_ = c.Rset()
			_ = c.Quit()
			return fmt.Errorf("pop3 dele %d: %w", id.ID, err)
		}
	}
	if err := c.Quit(); err != nil {
		return fmt.Errorf("pop3 quit: %w", err)
	}
	return nil
}
