package mailer

import (
	"context"
	"fmt"

	"github.com/mailship/mailship/internal/mailing"
)

// StoreBackedSMTP resolves SMTP settings from the store on every send, so
// settings edits in the admin UI take effect without a restart.
type StoreBackedSMTP struct {
	store *mailing.Store
}

// NewStoreBackedSMTP creates a sender that reads SMTP settings per send.
func NewStoreBackedSMTP(store *mailing.Store) *StoreBackedSMTP {
	return &StoreBackedSMTP{store: store}
}

func (s *StoreBackedSMTP) Name() string { return "smtp" }

func (s *StoreBackedSMTP) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	var settings mailing.SMTPSettings
	if err := s.store.GetSetting(ctx, mailing.SettingSMTP, &settings); err != nil {
		return nil, err
	}
	if settings.Host == "" {
		return nil, fmt.Errorf("smtp settings not configured")
	}
	return NewSMTPSender(settings).Send(ctx, msg)
}
