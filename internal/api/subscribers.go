package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mailship/mailship/internal/mailing"
)

// HandleGetSubscribers returns subscribers with optional status filtering.
func (svc *MailingService) HandleGetSubscribers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	subs, err := svc.store.ListSubscribers(r.Context(), r.URL.Query().Get("status"), 0, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load subscribers")
		return
	}
	if subs == nil {
		subs = []*mailing.Subscriber{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"subscribers": subs, "total": len(subs)})
}

// HandleCreateSubscriber adds a subscriber, optionally into lists.
func (svc *MailingService) HandleCreateSubscriber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var input struct {
		Email   string  `json:"email"`
		Name    string  `json:"name"`
		ListIDs []int64 `json:"list_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || !strings.Contains(input.Email, "@") {
		respondError(w, http.StatusBadRequest, "valid email is required")
		return
	}

	existing, err := svc.store.GetSubscriberByEmail(ctx, input.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to check subscriber")
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "subscriber already exists")
		return
	}

	sub := &mailing.Subscriber{Email: strings.ToLower(input.Email), Name: input.Name}
	if err := svc.store.CreateSubscriber(ctx, sub); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create subscriber")
		return
	}
	for _, listID := range input.ListIDs {
		if err := svc.store.AddSubscriberToList(ctx, sub.ID, listID); err != nil {
			log.Printf("[API] add subscriber %d to list %d: %v", sub.ID, listID, err)
		}
	}
	respondJSON(w, http.StatusCreated, sub)
}

// HandleGetSubscriber returns one subscriber.
func (svc *MailingService) HandleGetSubscriber(w http.ResponseWriter, r *http.Request) {
	sub, err := svc.store.GetSubscriber(r.Context(), urlParamInt64(r, "subscriberID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load subscriber")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscriber not found")
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// HandleUpdateSubscriber updates a subscriber's email, name or status.
func (svc *MailingService) HandleUpdateSubscriber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub, err := svc.store.GetSubscriber(ctx, urlParamInt64(r, "subscriberID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load subscriber")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscriber not found")
		return
	}

	var input struct {
		Email  string `json:"email"`
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if input.Email != "" {
		sub.Email = strings.ToLower(input.Email)
	}
	if input.Name != "" {
		sub.Name = input.Name
	}
	if input.Status != "" {
		switch input.Status {
		case mailing.SubscriberActive, mailing.SubscriberUnsubscribed, mailing.SubscriberBounced:
			sub.Status = input.Status
		default:
			respondError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	if err := svc.store.UpdateSubscriber(ctx, sub); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update subscriber")
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// HandleDeleteSubscriber removes a subscriber.
func (svc *MailingService) HandleDeleteSubscriber(w http.ResponseWriter, r *http.Request) {
	if err := svc.store.DeleteSubscriber(r.Context(), urlParamInt64(r, "subscriberID")); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete subscriber")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleImportSubscribers ingests a CSV of email,name rows, upserting each
// and optionally attaching them to a list via the list_id query parameter.
// A header row is skipped when the first field is not an email.
func (svc *MailingService) HandleImportSubscribers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	listID := int64(queryInt(r, "list_id", 0))

	reader := csv.NewReader(r.Body)
	reader.FieldsPerRecord = -1

	var imported, skipped int
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid csv")
			return
		}
		if len(record) == 0 {
			continue
		}
		email := strings.TrimSpace(strings.ToLower(record[0]))
		if !strings.Contains(email, "@") {
			skipped++
			continue
		}
		name := ""
		if len(record) > 1 {
			name = strings.TrimSpace(record[1])
		}

		sub, err := svc.store.UpsertSubscriber(ctx, email, name)
		if err != nil {
			log.Printf("[API] import %s: %v", email, err)
			skipped++
			continue
		}
		if listID > 0 {
			if err := svc.store.AddSubscriberToList(ctx, sub.ID, listID); err != nil {
				log.Printf("[API] import attach %s to list %d: %v", email, listID, err)
			}
		}
		imported++
	}

	respondJSON(w, http.StatusOK, map[string]int{"imported": imported, "skipped": skipped})
}

// HandleExportSubscribers streams subscribers as CSV.
func (svc *MailingService) HandleExportSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := svc.store.ListSubscribers(r.Context(), r.URL.Query().Get("status"), int64(queryInt(r, "list_id", 0)), 100000, 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load subscribers")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="subscribers-%s.csv"`, time.Now().Format("2006-01-02")))

	writer := csv.NewWriter(w)
	writer.Write([]string{"email", "name", "status", "created_at"})
	for _, sub := range subs {
		writer.Write([]string{sub.Email, sub.Name, sub.Status, sub.CreatedAt.Format(time.RFC3339)})
	}
	writer.Flush()
}
