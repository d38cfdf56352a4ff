// Package worker drains the send queue and promotes scheduled campaigns.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mailship/mailship/internal/alerts"
	"github.com/mailship/mailship/internal/mailer"
	"github.com/mailship/mailship/internal/mailing"
)

// claimedRow is one queue row locked for sending, joined with the campaign
// and subscriber it references. Either join side may be missing.
type claimedRow struct {
	QueueID      int64
	CampaignID   int64
	SubscriberID int64
	Campaign     *mailing.Campaign
	Subscriber   *mailing.Subscriber
}

// Processor claims due queue rows in batches and sends them.
type Processor struct {
	db       *sql.DB
	store    *mailing.Store
	sender   mailer.Sender
	notifier *alerts.Notifier
	throttle *Throttle

	batchSize   int
	interval    time.Duration
	reclaim     time.Duration
	sendTimeout time.Duration
	baseURL     string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// ProcessorConfig carries the tunables of the send loop.
type ProcessorConfig struct {
	BatchSize   int           // rows claimed per tick
	Interval    time.Duration // tick period
	Reclaim     time.Duration // how long a sending row stays locked before reclaim
	SendTimeout time.Duration // per-message delivery deadline
	BaseURL     string        // public origin for tracking links
}

// NewProcessor creates a queue processor. Zero config fields get defaults.
func NewProcessor(db *sql.DB, store *mailing.Store, sender mailer.Sender, notifier *alerts.Notifier, throttle *Throttle, cfg ProcessorConfig) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Reclaim <= 0 {
		cfg.Reclaim = 5 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Processor{
		db:          db,
		store:       store,
		sender:      sender,
		notifier:    notifier,
		throttle:    throttle,
		batchSize:   cfg.BatchSize,
		interval:    cfg.Interval,
		reclaim:     cfg.Reclaim,
		sendTimeout: cfg.SendTimeout,
		baseURL:     cfg.BaseURL,
	}
}

// Start launches the processing loop. Calling Start on a running processor is
// a no-op.
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.run()
	log.Printf("[Worker] queue processor started (batch=%d interval=%s)", p.batchSize, p.interval)
}

// Stop halts the loop and waits for the in-flight batch to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	log.Printf("[Worker] queue processor stopped")
}

func (p *Processor) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Process immediately on start, then on every tick.
	p.ProcessBatch(context.Background())
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.ProcessBatch(context.Background())
		}
	}
}

// ProcessBatch claims and sends one batch of due rows. Returns the number of
// rows attempted.
func (p *Processor) ProcessBatch(ctx context.Context) int {
	rows, err := p.claimBatch(ctx)
	if err != nil {
		log.Printf("[Worker] claim batch: %v", err)
		return 0
	}
	if len(rows) == 0 {
		return 0
	}
	log.Printf("[Worker] claimed %d rows", len(rows))

	touched := map[int64]bool{}
	for _, row := range rows {
		p.processRow(ctx, row)
		touched[row.CampaignID] = true
	}

	for campaignID := range touched {
		if err := p.finishCampaignIfDone(ctx, campaignID); err != nil {
			log.Printf("[Worker] finish campaign %d: %v", campaignID, err)
		}
	}
	return len(rows)
}

// claimBatch atomically flips up to batchSize due queued rows to sending and
// returns them joined with campaign and subscriber. Rows stuck in sending
// longer than the reclaim window are picked up again. FOR UPDATE SKIP LOCKED
// keeps concurrent workers from double-claiming.
func (p *Processor) claimBatch(ctx context.Context) ([]*claimedRow, error) {
	query := fmt.Sprintf(`
		WITH claimed AS (
			UPDATE send_queue SET status = 'sending', locked_at = NOW()
			WHERE id IN (
				SELECT id FROM send_queue
				WHERE (status = 'queued' AND scheduled_for <= NOW())
				   OR (status = 'sending' AND locked_at < NOW() - INTERVAL '%d seconds')
				ORDER BY id
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, campaign_id, subscriber_id
		)
		SELECT q.id, q.campaign_id, q.subscriber_id,
			c.id, c.name, c.subject, c.content, c.template_id, c.status,
			s.id, s.email, s.name, s.status, s.unsubscribe_token
		FROM claimed q
		LEFT JOIN campaigns c ON c.id = q.campaign_id
		LEFT JOIN subscribers s ON s.id = q.subscriber_id
		ORDER BY q.id`, int(p.reclaim.Seconds()))

	rows, err := p.db.QueryContext(ctx, query, p.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*claimedRow
	for rows.Next() {
		row := &claimedRow{}
		var (
			cID         sql.NullInt64
			cName       sql.NullString
			cSubject    sql.NullString
			cContent    sql.NullString
			cTemplateID sql.NullInt64
			cStatus     sql.NullString
			sID         sql.NullInt64
			sEmail      sql.NullString
			sName       sql.NullString
			sStatus     sql.NullString
			sToken      sql.NullString
		)
		if err := rows.Scan(&row.QueueID, &row.CampaignID, &row.SubscriberID,
			&cID, &cName, &cSubject, &cContent, &cTemplateID, &cStatus,
			&sID, &sEmail, &sName, &sStatus, &sToken); err != nil {
			return nil, err
		}
		if cID.Valid {
			row.Campaign = &mailing.Campaign{
				ID:      cID.Int64,
				Name:    cName.String,
				Subject: cSubject.String,
				Content: cContent.String,
				Status:  cStatus.String,
			}
			if cTemplateID.Valid {
				row.Campaign.TemplateID = &cTemplateID.Int64
			}
		}
		if sID.Valid {
			row.Subscriber = &mailing.Subscriber{
				ID:               sID.Int64,
				Email:            sEmail.String,
				Name:             sName.String,
				Status:           sStatus.String,
				UnsubscribeToken: sToken.String,
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// processRow renders and sends one claimed row. Each row succeeds or fails on
// its own; one bad recipient never aborts the batch.
func (p *Processor) processRow(ctx context.Context, row *claimedRow) {
	if row.Campaign == nil || row.Subscriber == nil {
		p.markFailed(ctx, row, "missing campaign or subscriber")
		return
	}
	if row.Subscriber.Status != mailing.SubscriberActive {
		p.markFailed(ctx, row, "subscriber not active")
		return
	}

	if p.throttle != nil {
		allowed, err := p.throttle.Allow(ctx, row.CampaignID)
		if err != nil {
			log.Printf("[Worker] throttle check campaign %d: %v", row.CampaignID, err)
		} else if !allowed {
			// Put the row back; a later tick retries it.
			p.requeue(ctx, row)
			return
		}
	}

	msg, err := p.buildMessage(ctx, row)
	if err != nil {
		p.markFailed(ctx, row, err.Error())
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	result, err := p.sender.Send(sendCtx, msg)
	if err != nil {
		log.Printf("[Worker] send to %s failed: %v", row.Subscriber.Email, err)
		p.markFailed(ctx, row, err.Error())
		return
	}
	p.markSent(ctx, row, result)
}

// buildMessage resolves settings and renders the campaign for one subscriber.
func (p *Processor) buildMessage(ctx context.Context, row *claimedRow) (*mailer.Message, error) {
	var smtpCfg mailing.SMTPSettings
	if err := p.store.GetSetting(ctx, mailing.SettingSMTP, &smtpCfg); err != nil {
		return nil, err
	}
	var profile mailing.SenderProfile
	if err := p.store.GetSetting(ctx, mailing.SettingSender, &profile); err != nil {
		return nil, err
	}
	var security mailing.SecuritySettings
	if err := p.store.GetSetting(ctx, mailing.SettingSecurity, &security); err != nil {
		return nil, err
	}

	body := row.Campaign.Content
	if body == "" && row.Campaign.TemplateID != nil {
		tmpl, err := p.store.GetTemplate(ctx, *row.Campaign.TemplateID)
		if err != nil {
			return nil, err
		}
		if tmpl != nil {
			body = tmpl.Body
		}
	}

	renderer := &mailing.Renderer{
		BaseURL:         p.baseURL,
		DisableTracking: security.DisableTracking,
		Profile:         profile,
	}
	html := renderer.Render(body, row.Campaign, row.Subscriber)
	subject := renderer.RenderSubject(row.Campaign.Subject, row.Subscriber, row.Campaign)
	if subject == "" {
		// Subjectless campaigns fall back to the sender identity.
		subject = profile.BrandName
		if subject == "" {
			subject = profile.CompanyName
		}
	}

	return &mailer.Message{
		FromEmail: smtpCfg.FromEmail,
		FromName:  smtpCfg.FromName,
		ReplyTo:   smtpCfg.ReplyTo,
		To:        row.Subscriber.Email,
		ToName:    row.Subscriber.Name,
		Subject:   subject,
		HTML:      html,
		Headers: map[string]string{
			"List-Unsubscribe": fmt.Sprintf("<%s>", renderer.UnsubscribeURL(row.Campaign.ID, row.Subscriber)),
		},
	}, nil
}

func (p *Processor) markSent(ctx context.Context, row *claimedRow, result *mailer.SendResult) {
	_, err := p.db.ExecContext(ctx, `
		UPDATE send_queue SET status = 'sent', sent_at = NOW(), error = ''
		WHERE id = $1 AND status = 'sending'`, row.QueueID)
	if err != nil {
		log.Printf("[Worker] mark sent %d: %v", row.QueueID, err)
		return
	}
	err = p.store.RecordEvent(ctx, &mailing.Event{
		CampaignID:   row.CampaignID,
		SubscriberID: row.SubscriberID,
		Type:         mailing.EventDelivered,
		Meta:         mailing.JSON{"message_id": result.MessageID, "provider": result.Provider},
	})
	if err != nil {
		log.Printf("[Worker] record delivered event: %v", err)
	}
}

// markFailed records the terminal failure; sent_at carries the attempt time
// so 24h failure windows read the same column as successful sends.
func (p *Processor) markFailed(ctx context.Context, row *claimedRow, reason string) {
	_, err := p.db.ExecContext(ctx, `
		UPDATE send_queue SET status = 'failed', sent_at = NOW(), error = $2
		WHERE id = $1 AND status = 'sending'`, row.QueueID, reason)
	if err != nil {
		log.Printf("[Worker] mark failed %d: %v", row.QueueID, err)
		return
	}
	if p.notifier != nil && row.Campaign != nil {
		if err := p.notifier.CheckSendFailures(ctx, row.Campaign); err != nil {
			log.Printf("[Worker] failure alert check: %v", err)
		}
	}
}

func (p *Processor) requeue(ctx context.Context, row *claimedRow) {
	_, err := p.db.ExecContext(ctx, `
		UPDATE send_queue SET status = 'queued', locked_at = NULL
		WHERE id = $1 AND status = 'sending'`, row.QueueID)
	if err != nil {
		log.Printf("[Worker] requeue %d: %v", row.QueueID, err)
	}
}

// finishCampaignIfDone flips a sending campaign to sent once no queued or
// sending rows remain.
func (p *Processor) finishCampaignIfDone(ctx context.Context, campaignID int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'sent', updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
		  AND NOT EXISTS (
			SELECT 1 FROM send_queue
			WHERE campaign_id = $1 AND status IN ('queued', 'sending')
		  )`, campaignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("[Worker] campaign %d completed", campaignID)
	}
	return nil
}
