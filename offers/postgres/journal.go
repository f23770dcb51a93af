package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calyxpay/lib-offers/offers/transfer"
)

// Journal persists resolved offers into the offer_journal table.
type Journal struct {
	pool *pgxpool.Pool
}

// Compile-time assertion: *Journal implements transfer.Journal.
var _ transfer.Journal = (*Journal)(nil)

// NewJournal creates a journal over the given connection.
func NewJournal(conn *Connection) *Journal {
	return &Journal{pool: conn.Pool()}
}

// Record inserts one audit row. The (recipient, sender, offer_id) unique
// constraint makes duplicate recording fail loudly instead of silently
// double-writing.
func (j *Journal) Record(ctx context.Context, entry transfer.JournalEntry) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO offer_journal
			(sender, recipient, offer_id, amount, memo, resolution, resolved_to, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(entry.Sender),
		string(entry.Recipient),
		int64(entry.OfferID),
		entry.Amount,
		entry.Memo,
		string(entry.Resolution),
		string(entry.ResolvedTo),
		entry.CreatedAt,
		entry.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}

	return nil
}

// CountByResolution returns how many journal rows carry the given resolution.
// Used by diagnostics and integration tests.
func (j *Journal) CountByResolution(ctx context.Context, resolution transfer.Resolution) (int64, error) {
	var count int64

	err := j.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM offer_journal WHERE resolution = $1`,
		string(resolution),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}

	return count, nil
}
