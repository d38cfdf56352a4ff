package alerts

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailship/mailship/internal/mailer"
	"github.com/mailship/mailship/internal/mailing"
)

type captureSender struct {
	sent []*mailer.Message
}

func (c *captureSender) Name() string { return "capture" }

func (c *captureSender) Send(ctx context.Context, msg *mailer.Message) (*mailer.SendResult, error) {
	c.sent = append(c.sent, msg)
	return &mailer.SendResult{MessageID: "m-1", Provider: "capture"}, nil
}

func setupNotifier(t *testing.T) (*Notifier, *captureSender, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sender := &captureSender{}
	return NewNotifier(mailing.NewStore(db), sender), sender, mock, func() { db.Close() }
}

func expectNotificationSettings(mock sqlmock.Sqlmock, value string) {
	mock.ExpectQuery(`SELECT value FROM settings`).WithArgs(mailing.SettingNotifications).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(value)))
}

func TestCheckSendFailuresBelowThreshold(t *testing.T) {
	n, sender, mock, cleanup := setupNotifier(t)
	defer cleanup()

	expectNotificationSettings(mock, `{"admin_email":"ops@example.com","notify_send_failures":true,"failure_threshold":10}`)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM send_queue`).WithArgs(int64(7), mailing.QueueFailed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))

	err := n.CheckSendFailures(context.Background(), &mailing.Campaign{ID: 7, Name: "Launch"})
	require.NoError(t, err)
	assert.Empty(t, sender.sent, "below threshold must not alert")
}

func TestCheckSendFailuresAtThresholdAlerts(t *testing.T) {
	n, sender, mock, cleanup := setupNotifier(t)
	defer cleanup()

	expectNotificationSettings(mock, `{"admin_email":"ops@example.com","notify_send_failures":true,"failure_threshold":10}`)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM send_queue`).WithArgs(int64(7), mailing.QueueFailed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectExec(`INSERT INTO alert_log`).WithArgs(int64(7), TypeSendFailures).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := n.CheckSendFailures(context.Background(), &mailing.Campaign{ID: 7, Name: "Launch"})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ops@example.com", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Subject, "Launch")
}

func TestCheckSendFailuresFiresOnce(t *testing.T) {
	n, sender, mock, cleanup := setupNotifier(t)
	defer cleanup()

	settings := `{"admin_email":"ops@example.com","notify_send_failures":true,"failure_threshold":10}`

	expectNotificationSettings(mock, settings)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM send_queue`).WithArgs(int64(7), mailing.QueueFailed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectExec(`INSERT INTO alert_log`).WithArgs(int64(7), TypeSendFailures).
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectNotificationSettings(mock, settings)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM send_queue`).WithArgs(int64(7), mailing.QueueFailed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(15))
	mock.ExpectExec(`INSERT INTO alert_log`).WithArgs(int64(7), TypeSendFailures).
		WillReturnResult(sqlmock.NewResult(0, 0))

	campaign := &mailing.Campaign{ID: 7, Name: "Launch"}
	require.NoError(t, n.CheckSendFailures(context.Background(), campaign))
	require.NoError(t, n.CheckSendFailures(context.Background(), campaign))
	assert.Len(t, sender.sent, 1, "second breach must not re-alert")
}

func TestCheckSendFailuresDisabled(t *testing.T) {
	n, sender, mock, cleanup := setupNotifier(t)
	defer cleanup()

	expectNotificationSettings(mock, `{"admin_email":"ops@example.com","notify_send_failures":false}`)

	err := n.CheckSendFailures(context.Background(), &mailing.Campaign{ID: 7, Name: "Launch"})
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
	assert.NoError(t, mock.ExpectationsWereMet(), "disabled flag must short-circuit before counting")
}

func TestCheckHighBounceUsesPercentage(t *testing.T) {
	n, sender, mock, cleanup := setupNotifier(t)
	defer cleanup()

	expectNotificationSettings(mock, `{"admin_email":"ops@example.com","notify_high_bounce":true,"bounce_threshold":5}`)
	// 6 bounces out of 100 delivered = 6%
	mock.ExpectQuery(`FROM events`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"delivered", "bounces"}).AddRow(100, 6))
	mock.ExpectExec(`INSERT INTO alert_log`).WithArgs(int64(7), TypeHighBounce).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := n.CheckHighBounce(context.Background(), &mailing.Campaign{ID: 7, Name: "Launch"})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Subject, "bounce")
}

func TestCheckHighBounceBelowThreshold(t *testing.T) {
	n, sender, mock, cleanup := setupNotifier(t)
	defer cleanup()

	expectNotificationSettings(mock, `{"admin_email":"ops@example.com","notify_high_bounce":true,"bounce_threshold":5}`)
	mock.ExpectQuery(`FROM events`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"delivered", "bounces"}).AddRow(100, 4))

	err := n.CheckHighBounce(context.Background(), &mailing.Campaign{ID: 7, Name: "Launch"})
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestDefaultThresholdsApplied(t *testing.T) {
	n, _, mock, cleanup := setupNotifier(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT value FROM settings`).WithArgs(mailing.SettingNotifications).
		WillReturnError(sql.ErrNoRows)

	s := n.settings(context.Background())
	assert.Equal(t, 10, s.FailureThreshold)
	assert.Equal(t, 5.0, s.BounceThreshold)
}
