package dedupe

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// Ledger records fingerprint sightings so repeated submissions of the
// same blob are observable. It is an observation aid for the durable
// worker; the authoritative dedup gate is the backend's existence check.
type Ledger struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewLedger creates a dedupe ledger backed by db.
func NewLedger(db *sql.DB, logger zerolog.Logger) (*Ledger, error) {
	ledger := &Ledger{db: db, logger: logger}

	if err := ledger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure dedupe table: %w", err)
	}
	return ledger, nil
}

// ensureTable creates the blob_dedupe table if it doesn't exist
func (l *Ledger) ensureTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS blob_dedupe (
			fingerprint TEXT PRIMARY KEY,
			source_id TEXT,
			origin TEXT,
			first_seen_at TIMESTAMPTZ DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ DEFAULT NOW(),
			seen_count INTEGER DEFAULT 1
		)
	`

	if _, err := l.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create blob_dedupe table: %w", err)
	}

	l.logger.Info().Msg("blob_dedupe table ready")
	return nil
}

// Record notes one sighting of a fingerprint and returns the seen count.
func (l *Ledger) Record(ctx context.Context, fp, sourceID, origin string) (int, error) {
	// Upsert: increment seen_count if exists, insert if not
	query := `
		INSERT INTO blob_dedupe (fingerprint, source_id, origin, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, $2, $3, NOW(), NOW(), 1)
		ON CONFLICT (fingerprint) DO UPDATE
		SET last_seen_at = NOW(),
		    seen_count = blob_dedupe.seen_count + 1,
		    source_id = EXCLUDED.source_id,
		    origin = EXCLUDED.origin
		RETURNING seen_count
	`

	var seenCount int
	err := l.db.QueryRowContext(ctx, query, fp, sourceID, origin).Scan(&seenCount)
	if err != nil {
		return 0, fmt.Errorf("failed to record dedupe: %w", err)
	}
	return seenCount, nil
}

// SeenCount retrieves the seen count for a fingerprint, 0 when unseen.
func (l *Ledger) SeenCount(ctx context.Context, fp string) (int, error) {
	query := `SELECT seen_count FROM blob_dedupe WHERE fingerprint = $1`

	var seenCount int
	err := l.db.QueryRowContext(ctx, query, fp).Scan(&seenCount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get seen count: %w", err)
	}
	return seenCount, nil
}
