package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mailship/mailship/internal/mailing"
)

type campaignInput struct {
	Name        string     `json:"name"`
	Subject     string     `json:"subject"`
	Content     string     `json:"content"`
	TemplateID  *int64     `json:"template_id"`
	ListID      *int64     `json:"list_id"`
	ListIDs     []int64    `json:"list_ids"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// HandleGetCampaigns returns campaigns newest first.
func (svc *MailingService) HandleGetCampaigns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	campaigns, err := svc.store.ListCampaigns(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load campaigns")
		return
	}
	if campaigns == nil {
		campaigns = []*mailing.Campaign{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"campaigns": campaigns, "total": len(campaigns)})
}

// HandleCreateCampaign creates a draft campaign.
func (svc *MailingService) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var input campaignInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Name == "" || input.Subject == "" {
		respondError(w, http.StatusBadRequest, "name and subject are required")
		return
	}

	c := &mailing.Campaign{
		Name:        input.Name,
		Subject:     input.Subject,
		Content:     input.Content,
		TemplateID:  input.TemplateID,
		ListID:      input.ListID,
		ScheduledAt: input.ScheduledAt,
	}
	if err := svc.store.CreateCampaign(ctx, c); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}
	if len(input.ListIDs) > 0 {
		if err := svc.store.SetCampaignLists(ctx, c.ID, input.ListIDs); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to attach lists")
			return
		}
	}
	respondJSON(w, http.StatusCreated, c)
}

// HandleGetCampaign returns one campaign with its attached lists.
func (svc *MailingService) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := svc.store.GetCampaign(ctx, urlParamInt64(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	listIDs, err := svc.store.CampaignListIDs(ctx, c.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load campaign lists")
		return
	}
	if listIDs == nil {
		listIDs = []int64{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"campaign": c, "list_ids": listIDs})
}

// HandleUpdateCampaign updates a draft or scheduled campaign. Campaigns that
// started sending are immutable.
func (svc *MailingService) HandleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := svc.store.GetCampaign(ctx, urlParamInt64(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if c.Status == mailing.CampaignSending || c.Status == mailing.CampaignSent {
		respondError(w, http.StatusConflict, "campaign already sending")
		return
	}

	var input campaignInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if input.Name != "" {
		c.Name = input.Name
	}
	if input.Subject != "" {
		c.Subject = input.Subject
	}
	c.Content = input.Content
	c.TemplateID = input.TemplateID
	c.ListID = input.ListID
	c.ScheduledAt = input.ScheduledAt

	if err := svc.store.UpdateCampaign(ctx, c); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update campaign")
		return
	}
	if input.ListIDs != nil {
		if err := svc.store.SetCampaignLists(ctx, c.ID, input.ListIDs); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to attach lists")
			return
		}
	}
	respondJSON(w, http.StatusOK, c)
}

// HandleDeleteCampaign deletes a campaign and its queue.
func (svc *MailingService) HandleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := svc.store.DeleteCampaign(r.Context(), urlParamInt64(r, "campaignID")); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete campaign")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleSendCampaign queues a campaign for immediate delivery.
func (svc *MailingService) HandleSendCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := svc.store.GetCampaign(ctx, urlParamInt64(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if c.Status == mailing.CampaignSending || c.Status == mailing.CampaignSent {
		respondError(w, http.StatusConflict, "campaign already sending")
		return
	}

	queued, err := svc.store.BuildQueue(ctx, c.ID, time.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build queue")
		return
	}
	status := mailing.CampaignSending
	if queued == 0 {
		// Zero recipients means the processor never sees the campaign.
		pending, err := svc.store.PendingCount(ctx, c.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to build queue")
			return
		}
		if pending == 0 {
			status = mailing.CampaignSent
		}
	}
	if err := svc.store.SetCampaignStatus(ctx, c.ID, status); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to start campaign")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": status, "queued": queued})
}

// HandleScheduleCampaign sets a future send time. The scheduler queues and
// starts it when the time arrives.
func (svc *MailingService) HandleScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := svc.store.GetCampaign(ctx, urlParamInt64(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if c.Status == mailing.CampaignSending || c.Status == mailing.CampaignSent {
		respondError(w, http.StatusConflict, "campaign already sending")
		return
	}

	var input struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.ScheduledAt.IsZero() {
		respondError(w, http.StatusBadRequest, "scheduled_at is required")
		return
	}

	c.ScheduledAt = &input.ScheduledAt
	c.Status = mailing.CampaignScheduled
	if err := svc.store.UpdateCampaign(ctx, c); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to schedule campaign")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// HandleCampaignStats returns the event-derived metrics plus queue progress.
func (svc *MailingService) HandleCampaignStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID := urlParamInt64(r, "campaignID")

	c, err := svc.store.GetCampaign(ctx, campaignID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}

	stats, err := svc.store.GetCampaignStats(ctx, campaignID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	queue, err := svc.store.QueueCounts(ctx, campaignID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load queue counts")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": campaignID,
		"status":      c.Status,
		"stats":       stats,
		"queue":       queue,
	})
}
