// Package mailbridge moves HPC lifecycle events from an IMAP mailbox
// onto the broker: a realtime agent announces newly arrived emails and
// a decoder unpacks each announced email into individual messages.
package mailbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Email is one raw message fetched from the mailbox.
type Email struct {
	UID         uint32
	ArrivalDate time.Time
	Raw         []byte
}

// Mailbox is the mailbox surface the bridge needs. Implementations are
// not safe for concurrent use; the bridge serializes access.
type Mailbox interface {
	// Connect dials the server, authenticates and selects the inbox.
	Connect(ctx context.Context) error

	// Close terminates the session.
	Close() error

	// ListUIDs returns the UIDs of every email currently in the inbox.
	ListUIDs(ctx context.Context) ([]uint32, error)

	// Fetch retrieves one email by UID.
	Fetch(ctx context.Context, uid uint32) (*Email, error)

	// Idle blocks until the server announces new mail or ctx is done.
	Idle(ctx context.Context) error

	// Move transfers an email to another folder.
	Move(ctx context.Context, uid uint32, folder string) error

	// Delete flags an email deleted and expunges it.
	Delete(ctx context.Context, uid uint32) error
}

// IMAPConfig holds the settings of one IMAP account.
type IMAPConfig struct {
	Addr     string
	Username string
	Password string
	Inbox    string
}

// IMAPMailbox implements Mailbox over an IMAP session with IDLE
// support.
type IMAPMailbox struct {
	cfg    IMAPConfig
	client *imapclient.Client

	// arrivals receives a token whenever the server reports a mailbox
	// size change during IDLE.
	arrivals chan struct{}
}

// NewIMAPMailbox returns an unconnected mailbox.
func NewIMAPMailbox(cfg IMAPConfig) *IMAPMailbox {
	return &IMAPMailbox{
		cfg:      cfg,
		arrivals: make(chan struct{}, 1),
	}
}

// Connect implements Mailbox.
func (m *IMAPMailbox) Connect(ctx context.Context) error {
	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages == nil {
					return
				}
				select {
				case m.arrivals <- struct{}{}:
				default:
				}
			},
		},
	}

	client, err := imapclient.DialTLS(m.cfg.Addr, options)
	if err != nil {
		return fmt.Errorf("mailbridge: dial %s: %w", m.cfg.Addr, err)
	}
	if err := client.Login(m.cfg.Username, m.cfg.Password).Wait(); err != nil {
		client.Close()
		return fmt.Errorf("mailbridge: login: %w", err)
	}
	if _, err := client.Select(m.cfg.Inbox, nil).Wait(); err != nil {
		client.Close()
		return fmt.Errorf("mailbridge: select %s: %w", m.cfg.Inbox, err)
	}
	m.client = client
	return nil
}

// Close implements Mailbox.
func (m *IMAPMailbox) Close() error {
	if m.client == nil {
		return nil
	}
	err := m.client.Logout().Wait()
	m.client.Close()
	m.client = nil
	return err
}

// ListUIDs implements Mailbox.
func (m *IMAPMailbox) ListUIDs(ctx context.Context) ([]uint32, error) {
	data, err := m.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("mailbridge: uid search: %w", err)
	}
	var uids []uint32
	for _, uid := range data.AllUIDs() {
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

// Fetch implements Mailbox.
func (m *IMAPMailbox) Fetch(ctx context.Context, uid uint32) (*Email, error) {
	section := &imap.FetchItemBodySection{}
	options := &imap.FetchOptions{
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	}
	messages, err := m.client.Fetch(imap.UIDSetNum(imap.UID(uid)), options).Collect()
	if err != nil {
		return nil, fmt.Errorf("mailbridge: fetch uid %d: %w", uid, err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("mailbridge: uid %d: no such email", uid)
	}
	msg := messages[0]
	return &Email{
		UID:         uint32(msg.UID),
		ArrivalDate: msg.InternalDate,
		Raw:         msg.FindBodySection(section),
	}, nil
}

// Idle implements Mailbox. The IDLE command is interrupted either by a
// buffered arrival notification or by context cancellation.
func (m *IMAPMailbox) Idle(ctx context.Context) error {
	idle, err := m.client.Idle()
	if err != nil {
		return fmt.Errorf("mailbridge: idle: %w", err)
	}

	select {
	case <-m.arrivals:
	case <-ctx.Done():
	}
	if err := idle.Close(); err != nil {
		return fmt.Errorf("mailbridge: end idle: %w", err)
	}
	if err := idle.Wait(); err != nil {
		return fmt.Errorf("mailbridge: idle terminated: %w", err)
	}
	return ctx.Err()
}

// Move implements Mailbox.
func (m *IMAPMailbox) Move(ctx context.Context, uid uint32, folder string) error {
	if _, err := m.client.Move(imap.UIDSetNum(imap.UID(uid)), folder).Wait(); err != nil {
		return fmt.Errorf("mailbridge: move uid %d to %s: %w", uid, folder, err)
	}
	return nil
}

// Delete implements Mailbox.
func (m *IMAPMailbox) Delete(ctx context.Context, uid uint32) error {
	flags := &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagDeleted},
	}
	if err := m.client.Store(imap.UIDSetNum(imap.UID(uid)), flags, nil).Close(); err != nil {
		return fmt.Errorf("mailbridge: flag uid %d deleted: %w", uid, err)
	}
	if err := m.client.Expunge().Close(); err != nil {
		return fmt.Errorf("mailbridge: expunge: %w", err)
	}
	return nil
}
