package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"simwatch/internal/store"
)

// PersistEmailUID records a mailbox UID for deduplication. A UID seen
// before surfaces as ErrConflict so the caller can roll back only this
// sub-operation and skip the email.
func (s *Store) PersistEmailUID(ctx context.Context, tx store.DBTransaction, serverID, emailUID string) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO email_uids (email_server_id, email_uid)
		VALUES ($1, $2)
	`, serverID, emailUID)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("email uid %s: %w", emailUID, store.ErrConflict)
		}
		return err
	}
	return nil
}

// PersistEmailStats stores the decode statistics for one email.
func (s *Store) PersistEmailStats(ctx context.Context, tx store.DBTransaction, stats *store.EmailStats) error {
	byType, err := json.Marshal(stats.OutgoingByType)
	if err != nil {
		return fmt.Errorf("encode outgoing counts: %w", err)
	}

	_, err = s.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO email_stats (email_server_id, email_uid, rejected,
			arrival_date, dispatch_date, incoming,
			errors_decoding_base64, errors_decoding_json, errors_encoding_amqp,
			excluded, incorrelateable, outgoing, outgoing_by_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		stats.EmailServerID,
		stats.EmailUID,
		stats.Rejected,
		stats.ArrivalDate,
		stats.DispatchDate,
		stats.Incoming,
		stats.ErrorsDecodingB64,
		stats.ErrorsDecodingJSON,
		stats.ErrorsEncodingAMQP,
		stats.Excluded,
		stats.Incorrelateable,
		stats.Outgoing,
		byType,
	)
	return err
}
