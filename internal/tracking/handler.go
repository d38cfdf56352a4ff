// Package tracking serves the public endpoint email clients hit: open pixel,
// click redirect, unsubscribe and bounce callbacks.
package tracking

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/mailship/mailship/internal/alerts"
	"github.com/mailship/mailship/internal/mailing"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler dispatches tracking requests on the dwmp_track action parameter.
type Handler struct {
	store    *mailing.Store
	notifier *alerts.Notifier
}

// NewHandler creates the tracking handler. notifier may be nil.
func NewHandler(store *mailing.Store, notifier *alerts.Notifier) *Handler {
	return &Handler{store: store, notifier: notifier}
}

// HandleTrack routes on the dwmp_track query parameter: open, click,
// unsubscribe or bounce. The campaign and subscriber ids arrive in c and s.
func (h *Handler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("dwmp_track")
	campaignID, _ := strconv.ParseInt(r.URL.Query().Get("c"), 10, 64)
	subscriberID, _ := strconv.ParseInt(r.URL.Query().Get("s"), 10, 64)

	switch action {
	case "open":
		h.handleOpen(w, r, campaignID, subscriberID)
	case "click":
		h.handleClick(w, r, campaignID, subscriberID)
	case "unsubscribe":
		h.handleUnsubscribe(w, r, campaignID, subscriberID)
	case "bounce":
		h.handleBounce(w, r, campaignID, subscriberID)
	default:
		http.NotFound(w, r)
	}
}

// handleOpen records an open event. The pixel is always served, even when
// the ids are bogus or the write fails, so broken tracking never shows a
// broken image in the email.
func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request, campaignID, subscriberID int64) {
	if campaignID > 0 && subscriberID > 0 && !h.trackingDisabled(r.Context()) {
		err := h.store.RecordEvent(r.Context(), &mailing.Event{
			CampaignID:   campaignID,
			SubscriberID: subscriberID,
			Type:         mailing.EventOpen,
			Meta:         mailing.JSON{"ip": realIP(r), "user_agent": r.UserAgent()},
		})
		if err != nil {
			log.Printf("[Tracking] record open: %v", err)
		} else {
			log.Printf("OPEN campaign=%d subscriber=%d", campaignID, subscriberID)
		}
	}
	h.servePixel(w)
}

// handleClick decodes the base64 destination from u, records a click event
// and redirects. The redirect happens even when the event write fails; the
// reader's navigation is never sacrificed to analytics.
func (h *Handler) handleClick(w http.ResponseWriter, r *http.Request, campaignID, subscriberID int64) {
	decoded, err := base64.StdEncoding.DecodeString(r.URL.Query().Get("u"))
	if err != nil || len(decoded) == 0 {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	target := string(decoded)
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	if campaignID > 0 && subscriberID > 0 && !h.trackingDisabled(r.Context()) {
		err := h.store.RecordEvent(r.Context(), &mailing.Event{
			CampaignID:   campaignID,
			SubscriberID: subscriberID,
			Type:         mailing.EventClick,
			Meta:         mailing.JSON{"url": target, "ip": realIP(r), "user_agent": r.UserAgent()},
		})
		if err != nil {
			log.Printf("[Tracking] record click: %v", err)
		} else {
			log.Printf("CLICK campaign=%d subscriber=%d url=%s", campaignID, subscriberID, target)
		}
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// handleUnsubscribe flips the subscriber to unsubscribed only when the token
// in t matches. A wrong token changes nothing and records no event.
func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request, campaignID, subscriberID int64) {
	token := r.URL.Query().Get("t")
	if subscriberID <= 0 || token == "" {
		h.serveUnsubscribeError(w)
		return
	}

	ok, err := h.store.UnsubscribeIfTokenMatches(r.Context(), subscriberID, token)
	if err != nil {
		log.Printf("[Tracking] unsubscribe: %v", err)
		h.serveUnsubscribeError(w)
		return
	}
	if !ok {
		h.serveUnsubscribeError(w)
		return
	}

	if campaignID > 0 {
		err := h.store.RecordEvent(r.Context(), &mailing.Event{
			CampaignID:   campaignID,
			SubscriberID: subscriberID,
			Type:         mailing.EventUnsubscribe,
			Meta:         mailing.JSON{"ip": realIP(r)},
		})
		if err != nil {
			log.Printf("[Tracking] record unsubscribe: %v", err)
		}
	}
	log.Printf("UNSUB campaign=%d subscriber=%d", campaignID, subscriberID)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from us.</p>
	</body></html>`))
}

// handleBounce records a bounce, flips the subscriber to bounced and checks
// the high-bounce alert threshold.
func (h *Handler) handleBounce(w http.ResponseWriter, r *http.Request, campaignID, subscriberID int64) {
	if campaignID <= 0 || subscriberID <= 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	err := h.store.RecordEvent(r.Context(), &mailing.Event{
		CampaignID:   campaignID,
		SubscriberID: subscriberID,
		Type:         mailing.EventBounce,
		Meta:         mailing.JSON{"ip": realIP(r)},
	})
	if err != nil {
		log.Printf("[Tracking] record bounce: %v", err)
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if err := h.store.MarkSubscriberStatus(r.Context(), subscriberID, mailing.SubscriberBounced); err != nil {
		log.Printf("[Tracking] mark bounced: %v", err)
	}
	log.Printf("BOUNCE campaign=%d subscriber=%d", campaignID, subscriberID)

	if h.notifier != nil {
		campaign, err := h.store.GetCampaign(r.Context(), campaignID)
		if err == nil && campaign != nil {
			if err := h.notifier.CheckHighBounce(r.Context(), campaign); err != nil {
				log.Printf("[Tracking] bounce alert check: %v", err)
			}
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// trackingDisabled reports whether the privacy setting turns off open and
// click logging. A failed settings read counts as enabled; analytics are not
// dropped over a flaky lookup.
func (h *Handler) trackingDisabled(ctx context.Context) bool {
	var sec mailing.SecuritySettings
	if err := h.store.GetSetting(ctx, mailing.SettingSecurity, &sec); err != nil {
		log.Printf("[Tracking] load security settings: %v", err)
		return false
	}
	return sec.DisableTracking
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func (h *Handler) serveUnsubscribeError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>Invalid unsubscribe link</h1>
		<p>This link is invalid or has expired.</p>
	</body></html>`))
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
