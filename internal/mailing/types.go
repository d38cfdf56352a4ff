package mailing

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Campaign status values.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignSent      = "sent"
)

// Subscriber status values.
const (
	SubscriberActive       = "active"
	SubscriberUnsubscribed = "unsubscribed"
	SubscriberBounced      = "bounced"
)

// Queue row status values. Rows move queued -> sending -> sent/failed and
// never leave a terminal state.
const (
	QueueQueued  = "queued"
	QueueSending = "sending"
	QueueSent    = "sent"
	QueueFailed  = "failed"
)

// Event types recorded in the events table.
const (
	EventDelivered   = "delivered"
	EventOpen        = "open"
	EventClick       = "click"
	EventUnsubscribe = "unsubscribe"
	EventBounce      = "bounce"
)

// JSON maps to a JSONB column.
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, j)
}

// Subscriber is one email recipient.
type Subscriber struct {
	ID               int64     `json:"id" db:"id"`
	Email            string    `json:"email" db:"email"`
	Name             string    `json:"name" db:"name"`
	Status           string    `json:"status" db:"status"`
	UnsubscribeToken string    `json:"-" db:"unsubscribe_token"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// List is a named grouping of subscribers.
type List struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Template is a reusable email body a campaign may reference.
type Template struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Campaign is one email broadcast job.
type Campaign struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Subject     string     `json:"subject" db:"subject"`
	Content     string     `json:"content" db:"content"`
	TemplateID  *int64     `json:"template_id,omitempty" db:"template_id"`
	ListID      *int64     `json:"list_id,omitempty" db:"list_id"`
	Status      string     `json:"status" db:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// QueueRow is one pending or attempted delivery of a campaign to a subscriber.
type QueueRow struct {
	ID           int64      `json:"id" db:"id"`
	CampaignID   int64      `json:"campaign_id" db:"campaign_id"`
	SubscriberID int64      `json:"subscriber_id" db:"subscriber_id"`
	Status       string     `json:"status" db:"status"`
	ScheduledFor time.Time  `json:"scheduled_for" db:"scheduled_for"`
	LockedAt     *time.Time `json:"locked_at,omitempty" db:"locked_at"`
	SentAt       *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	Error        string     `json:"error,omitempty" db:"error"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Event is an append-only delivery or interaction record.
type Event struct {
	ID           int64     `json:"id" db:"id"`
	CampaignID   int64     `json:"campaign_id" db:"campaign_id"`
	SubscriberID int64     `json:"subscriber_id" db:"subscriber_id"`
	Type         string    `json:"type" db:"type"`
	Meta         JSON      `json:"meta,omitempty" db:"meta"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Keys used in the settings table.
const (
	SettingSMTP          = "smtp"
	SettingSender        = "sender"
	SettingNotifications = "notifications"
	SettingSecurity      = "security"
)

// SMTPSettings is the stored SMTP connection configuration.
type SMTPSettings struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Encryption string `json:"encryption"` // "ssl", "tls" or "" to infer from port
	FromEmail  string `json:"from_email"`
	FromName   string `json:"from_name"`
	ReplyTo    string `json:"reply_to"`
}

// SenderProfile holds the identity fields rendered into the email footer.
type SenderProfile struct {
	BrandName     string `json:"brand_name"`
	CompanyName   string `json:"company_name"`
	PostalAddress string `json:"postal_address"`
	WebsiteURL    string `json:"website_url"`
	SupportEmail  string `json:"support_email"`
	FooterText    string `json:"footer_text"`
}

// Empty reports whether no footer-relevant field is set. Empty profiles
// produce no footer block at all.
func (p SenderProfile) Empty() bool {
	return p.FooterText == "" && p.CompanyName == "" && p.PostalAddress == "" &&
		p.SupportEmail == "" && p.WebsiteURL == "" && p.BrandName == ""
}

// NotificationSettings controls threshold-based admin alerting.
type NotificationSettings struct {
	AdminEmail         string  `json:"admin_email"`
	NotifySendFailures bool    `json:"notify_send_failures"`
	FailureThreshold   int     `json:"failure_threshold"`
	NotifyHighBounce   bool    `json:"notify_high_bounce"`
	BounceThreshold    float64 `json:"bounce_threshold"` // percent of delivered
}

// DefaultNotificationSettings returns the thresholds used when nothing is stored.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		FailureThreshold: 10,
		BounceThreshold:  5,
	}
}

// SecuritySettings holds privacy-related flags.
type SecuritySettings struct {
	DisableTracking bool `json:"disable_tracking"`
}

// CampaignStats is the event-derived performance snapshot of a campaign.
type CampaignStats struct {
	Delivered    int64   `json:"delivered"`
	UniqueOpens  int64   `json:"unique_opens"`
	TotalOpens   int64   `json:"total_opens"`
	UniqueClicks int64   `json:"unique_clicks"`
	TotalClicks  int64   `json:"total_clicks"`
	Unsubscribes int64   `json:"unsubscribes"`
	Bounces      int64   `json:"bounces"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
	BounceRate   float64 `json:"bounce_rate"`
}
