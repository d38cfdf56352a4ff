package mailing

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

// BuildQueue expands a campaign into one send_queue row per targeted active
// subscriber, all stamped with scheduledFor. Targets come from the campaign's
// attached lists; a campaign with no attached lists but a legacy single list
// id uses that list, and a campaign with neither targets every active
// subscriber.
//
// The build is idempotent: a campaign that already has queue rows is left
// alone, and an invalid campaign id is a silent no-op. Duplicate subscribers
// across lists get one row.
func (s *Store) BuildQueue(ctx context.Context, campaignID int64, scheduledFor time.Time) (int64, error) {
	if campaignID <= 0 || scheduledFor.IsZero() {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("build queue: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1)`, campaignID).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("build queue: %w", err)
	}
	if !exists {
		return 0, nil
	}

	var queued int64
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM send_queue WHERE campaign_id = $1`, campaignID).Scan(&queued)
	if err != nil {
		return 0, fmt.Errorf("build queue: %w", err)
	}
	if queued > 0 {
		log.Printf("[Queue] campaign %d already has %d rows, skipping build", campaignID, queued)
		return 0, nil
	}

	listIDs, err := s.targetListIDs(ctx, tx, campaignID)
	if err != nil {
		return 0, err
	}

	var res int64
	if len(listIDs) > 0 {
		err = tx.QueryRowContext(ctx, `
			WITH inserted AS (
				INSERT INTO send_queue (campaign_id, subscriber_id, status, scheduled_for)
				SELECT DISTINCT $1, s.id, 'queued', $2
				FROM subscribers s
				JOIN subscriber_lists sl ON sl.subscriber_id = s.id
				WHERE sl.list_id = ANY($3) AND s.status = 'active'
				RETURNING 1
			)
			SELECT COUNT(*) FROM inserted`,
			campaignID, scheduledFor, pq.Array(listIDs)).Scan(&res)
	} else {
		err = tx.QueryRowContext(ctx, `
			WITH inserted AS (
				INSERT INTO send_queue (campaign_id, subscriber_id, status, scheduled_for)
				SELECT $1, s.id, 'queued', $2
				FROM subscribers s
				WHERE s.status = 'active'
				RETURNING 1
			)
			SELECT COUNT(*) FROM inserted`,
			campaignID, scheduledFor).Scan(&res)
	}
	if err != nil {
		return 0, fmt.Errorf("build queue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("build queue: %w", err)
	}
	log.Printf("[Queue] campaign %d queued %d recipients for %s", campaignID, res, scheduledFor.Format(time.RFC3339))
	return res, nil
}

// txQuerier is the read surface shared by *sql.DB and *sql.Tx.
type txQuerier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// targetListIDs resolves the lists a campaign targets: attached lists first,
// then the legacy single list column, else none (meaning all active).
func (s *Store) targetListIDs(ctx context.Context, tx txQuerier, campaignID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT list_id FROM campaign_lists WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("target lists: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return ids, nil
	}

	var legacy *int64
	err = tx.QueryRowContext(ctx, `SELECT list_id FROM campaigns WHERE id = $1`, campaignID).Scan(&legacy)
	if err != nil {
		return nil, fmt.Errorf("target lists: %w", err)
	}
	if legacy != nil && *legacy > 0 {
		return []int64{*legacy}, nil
	}
	return nil, nil
}
