package mailing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store provides database access for the mailing domain.
type Store struct {
	db *sql.DB
}

// NewStore creates a mailing store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ---- Subscribers ----

// CreateSubscriber inserts a subscriber with a fresh unsubscribe token.
func (s *Store) CreateSubscriber(ctx context.Context, sub *Subscriber) error {
	if sub.Status == "" {
		sub.Status = SubscriberActive
	}
	sub.UnsubscribeToken = uuid.New().String()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subscribers (email, name, status, unsubscribe_token)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		sub.Email, sub.Name, sub.Status, sub.UnsubscribeToken,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create subscriber: %w", err)
	}
	return nil
}

// GetSubscriber returns a subscriber by id, or nil if not found.
func (s *Store) GetSubscriber(ctx context.Context, id int64) (*Subscriber, error) {
	sub := &Subscriber{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, status, unsubscribe_token, created_at, updated_at
		FROM subscribers WHERE id = $1`, id,
	).Scan(&sub.ID, &sub.Email, &sub.Name, &sub.Status, &sub.UnsubscribeToken, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return sub, nil
}

// GetSubscriberByEmail returns a subscriber by email, or nil if not found.
func (s *Store) GetSubscriberByEmail(ctx context.Context, email string) (*Subscriber, error) {
	sub := &Subscriber{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, status, unsubscribe_token, created_at, updated_at
		FROM subscribers WHERE lower(email) = lower($1)`, email,
	).Scan(&sub.ID, &sub.Email, &sub.Name, &sub.Status, &sub.UnsubscribeToken, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber by email: %w", err)
	}
	return sub, nil
}

// ListSubscribers returns subscribers, optionally filtered by status and list.
func (s *Store) ListSubscribers(ctx context.Context, status string, listID int64, limit, offset int) ([]*Subscriber, error) {
	query := `
		SELECT DISTINCT s.id, s.email, s.name, s.status, s.unsubscribe_token, s.created_at, s.updated_at
		FROM subscribers s`
	var conds []string
	var args []interface{}
	if listID > 0 {
		query += ` JOIN subscriber_lists sl ON sl.subscriber_id = s.id`
		args = append(args, listID)
		conds = append(conds, fmt.Sprintf("sl.list_id = $%d", len(args)))
	}
	if status != "" {
		args = append(args, status)
		conds = append(conds, fmt.Sprintf("s.status = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY s.id LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var out []*Subscriber
	for rows.Next() {
		sub := &Subscriber{}
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.Name, &sub.Status, &sub.UnsubscribeToken, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// UpdateSubscriber updates the mutable fields of a subscriber.
func (s *Store) UpdateSubscriber(ctx context.Context, sub *Subscriber) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscribers SET email = $1, name = $2, status = $3, updated_at = NOW()
		WHERE id = $4`,
		sub.Email, sub.Name, sub.Status, sub.ID)
	if err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	return nil
}

// DeleteSubscriber removes a subscriber and its list memberships.
func (s *Store) DeleteSubscriber(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	return nil
}

// UpsertSubscriber inserts a subscriber or updates the name of an existing one
// by email. Used by CSV import.
func (s *Store) UpsertSubscriber(ctx context.Context, email, name string) (*Subscriber, error) {
	sub := &Subscriber{Email: email, Name: name, Status: SubscriberActive}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subscribers (email, name, status, unsubscribe_token)
		VALUES (lower($1), $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING id, status, unsubscribe_token, created_at, updated_at`,
		email, name, SubscriberActive, uuid.New().String(),
	).Scan(&sub.ID, &sub.Status, &sub.UnsubscribeToken, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert subscriber: %w", err)
	}
	return sub, nil
}

// MarkSubscriberStatus sets a subscriber's status.
func (s *Store) MarkSubscriberStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscribers SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	if err != nil {
		return fmt.Errorf("mark subscriber status: %w", err)
	}
	return nil
}

// UnsubscribeIfTokenMatches flips a subscriber to unsubscribed only when the
// presented token matches the stored one. Returns true when the row changed.
// A wrong token mutates nothing.
func (s *Store) UnsubscribeIfTokenMatches(ctx context.Context, id int64, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscribers SET status = $1, updated_at = NOW()
		WHERE id = $2 AND unsubscribe_token = $3`,
		SubscriberUnsubscribed, id, token)
	if err != nil {
		return false, fmt.Errorf("unsubscribe: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- Lists ----

// CreateList inserts a mailing list.
func (s *Store) CreateList(ctx context.Context, l *List) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO lists (name, description) VALUES ($1, $2)
		RETURNING id, created_at`,
		l.Name, l.Description,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("create list: %w", err)
	}
	return nil
}

// GetList returns a list by id, or nil if not found.
func (s *Store) GetList(ctx context.Context, id int64) (*List, error) {
	l := &List{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at FROM lists WHERE id = $1`, id,
	).Scan(&l.ID, &l.Name, &l.Description, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

// ListLists returns all mailing lists.
func (s *Store) ListLists(ctx context.Context) ([]*List, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at FROM lists ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var out []*List
	for rows.Next() {
		l := &List{}
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdateList updates a list's name and description.
func (s *Store) UpdateList(ctx context.Context, l *List) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE lists SET name = $1, description = $2 WHERE id = $3`,
		l.Name, l.Description, l.ID)
	if err != nil {
		return fmt.Errorf("update list: %w", err)
	}
	return nil
}

// DeleteList removes a list. Memberships cascade.
func (s *Store) DeleteList(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM lists WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return nil
}

// AddSubscriberToList creates a membership, ignoring duplicates.
func (s *Store) AddSubscriberToList(ctx context.Context, subscriberID, listID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriber_lists (subscriber_id, list_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		subscriberID, listID)
	if err != nil {
		return fmt.Errorf("add subscriber to list: %w", err)
	}
	return nil
}

// RemoveSubscriberFromList deletes a membership.
func (s *Store) RemoveSubscriberFromList(ctx context.Context, subscriberID, listID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM subscriber_lists WHERE subscriber_id = $1 AND list_id = $2`,
		subscriberID, listID)
	if err != nil {
		return fmt.Errorf("remove subscriber from list: %w", err)
	}
	return nil
}

// ListSubscriberCount returns the number of members of a list.
func (s *Store) ListSubscriberCount(ctx context.Context, listID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM subscriber_lists WHERE list_id = $1`, listID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("list subscriber count: %w", err)
	}
	return n, nil
}

// ---- Templates ----

// CreateTemplate inserts a template.
func (s *Store) CreateTemplate(ctx context.Context, t *Template) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO templates (name, body) VALUES ($1, $2)
		RETURNING id, created_at, updated_at`,
		t.Name, t.Body,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// GetTemplate returns a template by id, or nil if not found.
func (s *Store) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	t := &Template{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, body, created_at, updated_at FROM templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Body, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// ListTemplates returns all templates.
func (s *Store) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, body, created_at, updated_at FROM templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		t := &Template{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Body, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTemplate updates a template's name and body.
func (s *Store) UpdateTemplate(ctx context.Context, t *Template) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE templates SET name = $1, body = $2, updated_at = NOW() WHERE id = $3`,
		t.Name, t.Body, t.ID)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

// ---- Campaigns ----

// CreateCampaign inserts a campaign in draft status.
func (s *Store) CreateCampaign(ctx context.Context, c *Campaign) error {
	if c.Status == "" {
		c.Status = CampaignDraft
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO campaigns (name, subject, content, template_id, list_id, status, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		c.Name, c.Subject, c.Content, c.TemplateID, c.ListID, c.Status, c.ScheduledAt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// GetCampaign returns a campaign by id, or nil if not found.
func (s *Store) GetCampaign(ctx context.Context, id int64) (*Campaign, error) {
	c := &Campaign{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, subject, content, template_id, list_id, status, scheduled_at, created_at, updated_at
		FROM campaigns WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Subject, &c.Content, &c.TemplateID, &c.ListID, &c.Status, &c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// ListCampaigns returns campaigns newest first, optionally filtered by status.
func (s *Store) ListCampaigns(ctx context.Context, status string, limit, offset int) ([]*Campaign, error) {
	query := `
		SELECT id, name, subject, content, template_id, list_id, status, scheduled_at, created_at, updated_at
		FROM campaigns`
	var args []interface{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []*Campaign
	for rows.Next() {
		c := &Campaign{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Subject, &c.Content, &c.TemplateID, &c.ListID, &c.Status, &c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCampaign updates the editable fields of a campaign.
func (s *Store) UpdateCampaign(ctx context.Context, c *Campaign) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET name = $1, subject = $2, content = $3, template_id = $4,
			list_id = $5, status = $6, scheduled_at = $7, updated_at = NOW()
		WHERE id = $8`,
		c.Name, c.Subject, c.Content, c.TemplateID, c.ListID, c.Status, c.ScheduledAt, c.ID)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	return nil
}

// SetCampaignStatus sets a campaign's status.
func (s *Store) SetCampaignStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	return nil
}

// DeleteCampaign removes a campaign together with its queue rows, events and
// alert history. Attached list rows go with it via the campaign_lists cascade.
func (s *Store) DeleteCampaign(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM send_queue WHERE campaign_id = $1`,
		`DELETE FROM events WHERE campaign_id = $1`,
		`DELETE FROM alert_log WHERE campaign_id = $1`,
		`DELETE FROM campaigns WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete campaign: %w", err)
		}
	}
	return tx.Commit()
}

// SetCampaignLists replaces a campaign's target lists.
func (s *Store) SetCampaignLists(ctx context.Context, campaignID int64, listIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set campaign lists: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_lists WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("set campaign lists: %w", err)
	}
	if len(listIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO campaign_lists (campaign_id, list_id)
			SELECT $1, unnest($2::bigint[])
			ON CONFLICT DO NOTHING`,
			campaignID, pq.Array(listIDs)); err != nil {
			return fmt.Errorf("set campaign lists: %w", err)
		}
	}
	return tx.Commit()
}

// CampaignListIDs returns the target list ids attached to a campaign.
func (s *Store) CampaignListIDs(ctx context.Context, campaignID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT list_id FROM campaign_lists WHERE campaign_id = $1 ORDER BY list_id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign list ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DueCampaigns returns scheduled campaigns whose send time has passed.
func (s *Store) DueCampaigns(ctx context.Context, now time.Time) ([]*Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, subject, content, template_id, list_id, status, scheduled_at, created_at, updated_at
		FROM campaigns
		WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at`,
		CampaignScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("due campaigns: %w", err)
	}
	defer rows.Close()

	var out []*Campaign
	for rows.Next() {
		c := &Campaign{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Subject, &c.Content, &c.TemplateID, &c.ListID, &c.Status, &c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- Queue ----

// QueueCounts returns the per-status row counts for a campaign's queue.
func (s *Store) QueueCounts(ctx context.Context, campaignID int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM send_queue WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("queue counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// PendingCount returns the number of queued or sending rows for a campaign.
func (s *Store) PendingCount(ctx context.Context, campaignID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM send_queue WHERE campaign_id = $1 AND status IN ($2, $3)`,
		campaignID, QueueQueued, QueueSending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

// FailedCount returns the number of failed queue rows for a campaign.
func (s *Store) FailedCount(ctx context.Context, campaignID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM send_queue WHERE campaign_id = $1 AND status = $2`,
		campaignID, QueueFailed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed count: %w", err)
	}
	return n, nil
}

// ---- Events ----

// RecordEvent appends an event row.
func (s *Store) RecordEvent(ctx context.Context, e *Event) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO events (campaign_id, subscriber_id, type, meta)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		e.CampaignID, e.SubscriberID, e.Type, e.Meta,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// GetCampaignStats derives a campaign's performance snapshot from its events.
func (s *Store) GetCampaignStats(ctx context.Context, campaignID int64) (*CampaignStats, error) {
	st := &CampaignStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE type = 'delivered'),
			COUNT(DISTINCT subscriber_id) FILTER (WHERE type = 'open'),
			COUNT(*) FILTER (WHERE type = 'open'),
			COUNT(DISTINCT subscriber_id) FILTER (WHERE type = 'click'),
			COUNT(*) FILTER (WHERE type = 'click'),
			COUNT(*) FILTER (WHERE type = 'unsubscribe'),
			COUNT(*) FILTER (WHERE type = 'bounce')
		FROM events WHERE campaign_id = $1`, campaignID,
	).Scan(&st.Delivered, &st.UniqueOpens, &st.TotalOpens, &st.UniqueClicks, &st.TotalClicks, &st.Unsubscribes, &st.Bounces)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}
	if st.Delivered > 0 {
		st.OpenRate = float64(st.UniqueOpens) / float64(st.Delivered) * 100
		st.ClickRate = float64(st.UniqueClicks) / float64(st.Delivered) * 100
		st.BounceRate = float64(st.Bounces) / float64(st.Delivered) * 100
	}
	return st, nil
}

// BounceRate returns a campaign's bounce percentage relative to delivered.
func (s *Store) BounceRate(ctx context.Context, campaignID int64) (float64, error) {
	var delivered, bounces int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE type = 'delivered'),
			COUNT(*) FILTER (WHERE type = 'bounce')
		FROM events WHERE campaign_id = $1`, campaignID,
	).Scan(&delivered, &bounces)
	if err != nil {
		return 0, fmt.Errorf("bounce rate: %w", err)
	}
	if delivered == 0 {
		return 0, nil
	}
	return float64(bounces) / float64(delivered) * 100, nil
}

// ---- Settings ----

// GetSetting unmarshals the stored value for key into out. Missing keys leave
// out untouched so callers keep their defaults.
func (s *Store) GetSetting(ctx context.Context, key string, out interface{}) error {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get setting %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode setting %s: %w", key, err)
	}
	return nil
}

// PutSetting stores the JSON encoding of value under key.
func (s *Store) PutSetting(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, raw)
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

// ---- Alerts ----

// MarkAlertNotified records that an alert of the given type fired for a
// campaign. Returns true on first insert, false when already recorded, so a
// campaign alerts at most once per type.
func (s *Store) MarkAlertNotified(ctx context.Context, campaignID int64, alertType string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_log (campaign_id, alert_type) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		campaignID, alertType)
	if err != nil {
		return false, fmt.Errorf("mark alert notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
