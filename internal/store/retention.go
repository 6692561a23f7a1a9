package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	errx "github.com/falaai/server/internal/core/error"
)

// DeleteStaleConversations removes conversations last updated before cutoff
// together with their messages, in one transaction.
func (s *Store) DeleteStaleConversations(ctx context.Context, cutoff time.Time) (messages, conversations int64, err error) {
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM mensagens WHERE id_conversa IN (
				SELECT id FROM conversas WHERE data_atualizacao < ?)`, cutoff)
		if err != nil {
			return errx.WrapDB(fmt.Errorf("delete stale messages: %w", err))
		}
		if messages, err = res.RowsAffected(); err != nil {
			return errx.WrapDB(err)
		}

		res, err = tx.ExecContext(ctx, `DELETE FROM conversas WHERE data_atualizacao < ?`, cutoff)
		if err != nil {
			return errx.WrapDB(fmt.Errorf("delete stale conversations: %w", err))
		}
		if conversations, err = res.RowsAffected(); err != nil {
			return errx.WrapDB(err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return messages, conversations, nil
}
