package worker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mailship/mailship/internal/mailing"
)

func campaignColumns() []string {
	return []string{"id", "name", "subject", "content", "template_id", "list_id", "status", "scheduled_at", "created_at", "updated_at"}
}

func TestPromoteDueBuildsQueueAndStartsSending(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := mailing.NewStore(db)
	s := NewScheduler(store, time.Minute)

	past := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`FROM campaigns`).
		WithArgs(mailing.CampaignScheduled, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(campaignColumns()).
			AddRow(7, "Launch", "Hi", "body", nil, nil, mailing.CampaignScheduled, past, time.Now(), time.Now()))

	// Queue build for the due campaign.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM send_queue`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT list_id FROM campaign_lists`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"list_id"}))
	mock.ExpectQuery(`SELECT list_id FROM campaigns`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"list_id"}).AddRow(nil))
	mock.ExpectQuery(`INSERT INTO send_queue`).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectCommit()

	mock.ExpectExec(`UPDATE campaigns SET status`).
		WithArgs(mailing.CampaignSending, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	promoted := s.PromoteDue(context.Background())
	if promoted != 1 {
		t.Errorf("promoted = %d, want 1", promoted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPromoteDueZeroRecipientsCompletesCampaign(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := mailing.NewStore(db)
	s := NewScheduler(store, time.Minute)

	past := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`FROM campaigns`).
		WithArgs(mailing.CampaignScheduled, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(campaignColumns()).
			AddRow(7, "Launch", "Hi", "body", nil, nil, mailing.CampaignScheduled, past, time.Now(), time.Now()))

	// Queue build finds no active recipients.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM send_queue`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT list_id FROM campaign_lists`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"list_id"}))
	mock.ExpectQuery(`SELECT list_id FROM campaigns`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"list_id"}).AddRow(nil))
	mock.ExpectQuery(`INSERT INTO send_queue`).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM send_queue`).
		WithArgs(int64(7), mailing.QueueQueued, mailing.QueueSending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`UPDATE campaigns SET status`).
		WithArgs(mailing.CampaignSent, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	promoted := s.PromoteDue(context.Background())
	if promoted != 1 {
		t.Errorf("promoted = %d, want 1", promoted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPromoteDueNothingDue(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewScheduler(mailing.NewStore(db), time.Minute)

	mock.ExpectQuery(`FROM campaigns`).
		WithArgs(mailing.CampaignScheduled, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(campaignColumns()))

	if promoted := s.PromoteDue(context.Background()); promoted != 0 {
		t.Errorf("promoted = %d, want 0", promoted)
	}
}
