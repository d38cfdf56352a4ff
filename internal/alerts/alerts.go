// Package alerts emails the admin when a campaign crosses failure or bounce
// thresholds. Each alert type fires at most once per campaign.
package alerts

import (
	"context"
	"fmt"
	"log"

	"github.com/mailship/mailship/internal/mailer"
	"github.com/mailship/mailship/internal/mailing"
)

// Alert types recorded in the alert log.
const (
	TypeSendFailures = "send_failures"
	TypeHighBounce   = "high_bounce"
)

// Notifier evaluates alert thresholds and sends admin notifications.
type Notifier struct {
	store  *mailing.Store
	sender mailer.Sender
}

// NewNotifier creates an alert notifier.
func NewNotifier(store *mailing.Store, sender mailer.Sender) *Notifier {
	return &Notifier{store: store, sender: sender}
}

func (n *Notifier) settings(ctx context.Context) mailing.NotificationSettings {
	s := mailing.DefaultNotificationSettings()
	if err := n.store.GetSetting(ctx, mailing.SettingNotifications, &s); err != nil {
		log.Printf("[Alerts] load notification settings: %v", err)
	}
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 10
	}
	if s.BounceThreshold <= 0 {
		s.BounceThreshold = 5
	}
	return s
}

// CheckSendFailures alerts the admin when a campaign's failed sends reach the
// configured threshold. Safe to call after every failure; the alert log
// guarantees at most one notification per campaign.
func (n *Notifier) CheckSendFailures(ctx context.Context, campaign *mailing.Campaign) error {
	s := n.settings(ctx)
	if !s.NotifySendFailures || s.AdminEmail == "" {
		return nil
	}

	failed, err := n.store.FailedCount(ctx, campaign.ID)
	if err != nil {
		return err
	}
	if failed < int64(s.FailureThreshold) {
		return nil
	}

	first, err := n.store.MarkAlertNotified(ctx, campaign.ID, TypeSendFailures)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	subject := fmt.Sprintf("Send failures for campaign %q", campaign.Name)
	body := fmt.Sprintf(
		"<p>Campaign <strong>%s</strong> (id %d) has %d failed sends, at or above the threshold of %d.</p>"+
			"<p>Check the SMTP settings and the send queue for details.</p>",
		campaign.Name, campaign.ID, failed, s.FailureThreshold)
	return n.notify(ctx, s.AdminEmail, subject, body)
}

// CheckHighBounce alerts the admin when a campaign's bounce rate reaches the
// configured percentage of delivered mail.
func (n *Notifier) CheckHighBounce(ctx context.Context, campaign *mailing.Campaign) error {
	s := n.settings(ctx)
	if !s.NotifyHighBounce || s.AdminEmail == "" {
		return nil
	}

	rate, err := n.store.BounceRate(ctx, campaign.ID)
	if err != nil {
		return err
	}
	if rate < s.BounceThreshold {
		return nil
	}

	first, err := n.store.MarkAlertNotified(ctx, campaign.ID, TypeHighBounce)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	subject := fmt.Sprintf("High bounce rate for campaign %q", campaign.Name)
	body := fmt.Sprintf(
		"<p>Campaign <strong>%s</strong> (id %d) has a bounce rate of %.1f%%, at or above the threshold of %.1f%%.</p>"+
			"<p>Consider pausing the campaign and reviewing the recipient lists.</p>",
		campaign.Name, campaign.ID, rate, s.BounceThreshold)
	return n.notify(ctx, s.AdminEmail, subject, body)
}

func (n *Notifier) notify(ctx context.Context, adminEmail, subject, body string) error {
	_, err := n.sender.Send(ctx, &mailer.Message{
		To:      adminEmail,
		Subject: subject,
		HTML:    body,
	})
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	log.Printf("[Alerts] notified %s: %s", adminEmail, subject)
	return nil
}
