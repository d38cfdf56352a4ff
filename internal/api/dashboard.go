package api

import (
	"log"
	"net/http"
	"time"

	"github.com/mailship/mailship/internal/mailing"
)

// HandleDashboard returns the overview numbers the admin UI shows on load.
func (svc *MailingService) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	db := svc.store.DB()

	var totalSubscribers, activeSubscribers, totalCampaigns, sendingCampaigns int64
	var queuedRows, sentLast24h, failedLast24h int64

	err := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM subscribers),
			(SELECT COUNT(*) FROM subscribers WHERE status = 'active'),
			(SELECT COUNT(*) FROM campaigns),
			(SELECT COUNT(*) FROM campaigns WHERE status = 'sending'),
			(SELECT COUNT(*) FROM send_queue WHERE status = 'queued'),
			(SELECT COUNT(*) FROM send_queue WHERE status = 'sent' AND sent_at > NOW() - INTERVAL '24 hours'),
			(SELECT COUNT(*) FROM send_queue WHERE status = 'failed' AND sent_at > NOW() - INTERVAL '24 hours')`,
	).Scan(&totalSubscribers, &activeSubscribers, &totalCampaigns, &sendingCampaigns, &queuedRows, &sentLast24h, &failedLast24h)
	if err != nil {
		log.Printf("[API] dashboard query: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}

	recent, err := svc.store.ListCampaigns(ctx, "", 5, 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load campaigns")
		return
	}
	if recent == nil {
		recent = []*mailing.Campaign{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"subscribers": map[string]int64{
			"total":  totalSubscribers,
			"active": activeSubscribers,
		},
		"campaigns": map[string]int64{
			"total":   totalCampaigns,
			"sending": sendingCampaigns,
		},
		"queue": map[string]int64{
			"queued":          queuedRows,
			"sent_last_24h":   sentLast24h,
			"failed_last_24h": failedLast24h,
		},
		"recent_campaigns": recent,
		"generated_at":     time.Now().UTC(),
	})
}
