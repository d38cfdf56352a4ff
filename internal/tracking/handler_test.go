package tracking

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mailship/mailship/internal/mailing"
)

func setupHandler(t *testing.T) (*Handler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return NewHandler(mailing.NewStore(db), nil), mock, func() { db.Close() }
}

func trackRequest(params map[string]string) *http.Request {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return httptest.NewRequest(http.MethodGet, "/track?"+q.Encode(), nil)
}

func eventInsertRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now())
}

// expectSecurity queues the security-settings lookup that guards open and
// click logging. With no stored row the defaults apply and tracking is on.
func expectSecurity(mock sqlmock.Sqlmock, disabled bool) {
	rows := sqlmock.NewRows([]string{"value"})
	if disabled {
		rows.AddRow([]byte(`{"disable_tracking":true}`))
	}
	mock.ExpectQuery(`SELECT value FROM settings`).
		WithArgs(mailing.SettingSecurity).
		WillReturnRows(rows)
}

func TestOpenRecordsEventAndServesPixel(t *testing.T) {
	h, mock, cleanup := setupHandler(t)
	defer cleanup()

	expectSecurity(mock, false)
	mock.ExpectQuery(`INSERT INTO events`).
		WithArgs(int64(7), int64(42), mailing.EventOpen, sqlmock.AnyArg()).
		WillReturnRows(eventInsertRows())

	w := httptest.NewRecorder()
	h.HandleTrack(w, trackRequest(map[string]string{"dwmp_track": "open", "c": "7", "s": "42"}))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), pixelGIF) {
		t.Error("body should be the tracking pixel")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestOpenServesPixelOnBogusIDs(t *testing.T) {
	h, mock, cleanup := setupHandler(t)
	defer cleanup()

	w := httptest.NewRecorder()
	h.HandleTrack(w, trackRequest(map[string]string{"dwmp_track": "open", "c": "abc", "s": ""}))

	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), pixelGIF) {
		t.Error("pixel must be served even when ids are bogus")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no event should be recorded: %v", err)
	}
}

func TestOpenServesPixelWhenStoreFails(t *testing.T) {
	h, mock, cleanup := setupHandler(t)
	defer cleanup()

	expectSecurity(mock, false)
	mock.ExpectQuery(`INSERT INTO events`).
		WillReturnError(sql.ErrConnDone)

	w := httptest.NewRecorder()
	h.HandleTrack(w, trackRequest(map[string]string{"dwmp_track": "open", "c": "7", "s": "42"}))

	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), pixelGIF) {
		t.Error("pixel must be served even when the event write fails")
	}
}

func TestClickRedirectsToDecodedURL(t *testing.T) {
	h, mock, cleanup := setupHandler(t)
	defer cleanup()

	target := "https://shop.example.com/sale?x=1"
	encoded := base64.StdEncoding.EncodeToString([]byte(target))

	expectSecurity(mock, false)
	mock.ExpectQuery(`INSERT INTO events`).
		WithArgs(int64(7), int64(42), mailing.EventClick, sqlmock.AnyArg()).
		WillReturnRows(eventInsertRows())

	w := httptest.NewRecorder()
	h.HandleTrack(w, trackRequest(map[string]string{
		"dwmp_track": "click", "c": "7", "s": "42", "u": encoded,
	}))

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != target {
		t.Errorf("Location = %q, want %q", loc, target)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestClickRedirectsEvenWhenEventFails(t *testing.T) {
	h, mock, cleanup := setupHandler(t)
	defer cleanup()

	target := "https://shop.example.com/"
	encoded := base64.StdEncoding.EncodeToString([]byte(target))

	expectSecurity(mock, false)
	mock.ExpectQuery(`INSERT INTO events`).
		WillReturnError(sql.ErrConnDone)

	w := httptest.NewRecorder()
	h.HandleTrack(w, trackRequest(map[string]string{
		"dwmp_track": "click", "c": "7", "s": "42", "u": encoded,
	}))

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307 despite event failure", w.Code)
	}
}

func TestOpenSkipsEventWhenTrackingDisabled(t *testing.T) {
	h, mock, cleanup := setupHandler(t)
	defer cleanup()

	expectSecurity(mock, true)

	w := httptest.NewRecorder()
	h.HandleTrack(w, trackRequest(map[string]string{"dwmp_track": "open", "c": "7", "s": "42"}))

	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), pixelGIF) {
		t.Error("pixel must still be served with tracking disabled")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no event should be recorded: %v", err)
	}
}

func TestClickRedirectsWithoutEventWhenTrackingDisabled(t *testing.T) {
	h, mock, cleanup := setupHandler(t)
	defer cleanup()

	target := "https://shop.example.com/sale"
	encoded := base64.StdEncoding.EncodeToString([]byte(target))

	expectSecurity(mock, true)

	w := httptest.NewRecorder()
	h.HandleTrack(w, trackRequest(map[string]string{
		"dwmp_track": "click", "c": "7", "s": "42", "u": encoded,
	}))

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != target {
		t.Errorf("Location = %q, want %q", loc, target)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no event should be recorded: %v", err)
	}
}

func TestClickRejectsBadPayload(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()

	for _, u := range []string{"", "not-base64!!!", base64.StdEncoding.EncodeToString([]byte("javascript:alert(1)"))} {
		w := httptest.NewRecorder()
		h.HandleTrack(w, trackRequest(map[string]string{"dwmp_track": "click", "u": u}))
		if w.Code != http.StatusBadRequest {
			t.Errorf("u=%q: status = %d, want 400", u, w.Code)
		}
	}
}

func TestUnsubscribeWithValidToken(t *testing.T) {
	h, mock, cleanup := setupHandler(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE subscribers SET status`).
		WithArgs(mailing.SubscriberUnsubscribed, int64(42), "tok-123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO events`).
		WithArgs(int64(7), int64(42), mailing.EventUnsubscribe, sqlmock.AnyArg()).
		WillReturnRows(eventInsertRows())

	w := httptest.NewRecorder()
	h.HandleTrack(w, trackRequest(map[string]string{
		"dwmp_track": "unsubscribe", "c": "7", "s": "42", "t": "tok-123",
	}))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("unsubscribed")) {
		t.Error("confirmation page expected")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestUnsubscribeWrongTokenMutatesNothing(t *testing.T) {
	h, mock, cleanup := setupHandler(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE subscribers SET status`).
		WithArgs(mailing.SubscriberUnsubscribed, int64(42), "wrong").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := httptest.NewRecorder()
	h.HandleTrack(w, trackRequest(map[string]string{
		"dwmp_track": "unsubscribe", "c": "7", "s": "42", "t": "wrong",
	}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	// No event insert was expected; a recorded one fails here.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestUnsubscribeMissingToken(t *testing.T) {
	h, mock, cleanup := setupHandler(t)
	defer cleanup()

	w := httptest.NewRecorder()
	h.HandleTrack(w, trackRequest(map[string]string{"dwmp_track": "unsubscribe", "c": "7", "s": "42"}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no queries expected: %v", err)
	}
}

func TestBounceRecordsEventAndMarksSubscriber(t *testing.T) {
	h, mock, cleanup := setupHandler(t)
	defer cleanup()

	mock.ExpectQuery(`INSERT INTO events`).
		WithArgs(int64(7), int64(42), mailing.EventBounce, sqlmock.AnyArg()).
		WillReturnRows(eventInsertRows())
	mock.ExpectExec(`UPDATE subscribers SET status`).
		WithArgs(mailing.SubscriberBounced, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	h.HandleTrack(w, trackRequest(map[string]string{"dwmp_track": "bounce", "c": "7", "s": "42"}))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestUnknownActionIs404(t *testing.T) {
	h, _, cleanup := setupHandler(t)
	defer cleanup()

	w := httptest.NewRecorder()
	h.HandleTrack(w, trackRequest(map[string]string{"dwmp_track": "exfiltrate"}))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
