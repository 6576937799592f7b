package mailbridge

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"simwatch/internal/mq"
	"simwatch/internal/store"
)

// EmailGateway is the slice of the store the bridge needs.
type EmailGateway interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	store.EmailStore
}

// Bridge is the realtime mailbox agent. It drains the inbox, announces
// every previously unseen email on the broker and then idles until the
// server reports new mail. A fault in any phase tears the session down
// and restarts the cycle after a fixed delay.
type Bridge struct {
	box        Mailbox
	store      EmailGateway
	pub        mq.Publisher
	serverID   string
	retryDelay time.Duration
	log        *slog.Logger
}

// NewBridge wires a realtime agent.
func NewBridge(box Mailbox, g EmailGateway, pub mq.Publisher, serverID string, retryDelay time.Duration, log *slog.Logger) *Bridge {
	return &Bridge{
		box:        box,
		store:      g,
		pub:        pub,
		serverID:   serverID,
		retryDelay: retryDelay,
		log:        log,
	}
}

// Run executes the drain/idle cycle until ctx is cancelled. It only
// returns the context error: session faults are logged and retried.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		if err := b.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Error("mailbox session fault, restarting",
				"error", err, "retry_delay", b.retryDelay.String())
			select {
			case <-time.After(b.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (b *Bridge) cycle(ctx context.Context) error {
	if err := b.box.Connect(ctx); err != nil {
		return err
	}
	defer b.box.Close()

	for {
		if err := b.drain(ctx); err != nil {
			return err
		}
		if err := b.box.Idle(ctx); err != nil {
			return err
		}
	}
}

// drain announces every inbox email not yet seen. Seen UIDs are
// recorded in the same transaction as the announcement decision, so a
// UID is announced at most once even across restarts.
func (b *Bridge) drain(ctx context.Context) error {
	uids, err := b.box.ListUIDs(ctx)
	if err != nil {
		return err
	}

	announced := 0
	for _, uid := range uids {
		ok, err := b.announce(ctx, uid)
		if err != nil {
			return err
		}
		if ok {
			announced++
		}
	}
	if announced > 0 {
		b.log.Info("announced new emails", "count", announced, "inbox_size", len(uids))
	}
	return nil
}

func (b *Bridge) announce(ctx context.Context, uid uint32) (bool, error) {
	emailUID := strconv.FormatUint(uint64(uid), 10)

	tx, err := b.store.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if err := b.store.PersistEmailUID(ctx, tx, b.serverID, emailUID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	env := mq.New(mq.CodeSMTPBridge, map[string]any{
		"email_uid":       emailUID,
		"email_server_id": b.serverID,
	})
	env.Props.Headers.EmailUID = emailUID
	if err := b.pub.Publish(ctx, env); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
