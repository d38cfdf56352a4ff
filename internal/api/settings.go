package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mailship/mailship/internal/mailing"
)

// HandleGetSettings returns the stored settings blob for a known key.
// Passwords in SMTP settings are masked.
func (svc *MailingService) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	switch key {
	case mailing.SettingSMTP:
		var s mailing.SMTPSettings
		if err := svc.store.GetSetting(r.Context(), key, &s); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load settings")
			return
		}
		if s.Password != "" {
			s.Password = "********"
		}
		respondJSON(w, http.StatusOK, s)
	case mailing.SettingSender:
		var s mailing.SenderProfile
		if err := svc.store.GetSetting(r.Context(), key, &s); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load settings")
			return
		}
		respondJSON(w, http.StatusOK, s)
	case mailing.SettingNotifications:
		s := mailing.DefaultNotificationSettings()
		if err := svc.store.GetSetting(r.Context(), key, &s); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load settings")
			return
		}
		respondJSON(w, http.StatusOK, s)
	case mailing.SettingSecurity:
		var s mailing.SecuritySettings
		if err := svc.store.GetSetting(r.Context(), key, &s); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load settings")
			return
		}
		respondJSON(w, http.StatusOK, s)
	default:
		respondError(w, http.StatusNotFound, "unknown settings key")
	}
}

// HandlePutSettings validates and stores a settings blob. The masked password
// sentinel keeps the stored SMTP password.
func (svc *MailingService) HandlePutSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "key")

	switch key {
	case mailing.SettingSMTP:
		var s mailing.SMTPSettings
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			respondError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if s.Host == "" || s.Port <= 0 {
			respondError(w, http.StatusBadRequest, "host and port are required")
			return
		}
		if s.Password == "********" {
			var current mailing.SMTPSettings
			if err := svc.store.GetSetting(ctx, key, &current); err == nil {
				s.Password = current.Password
			}
		}
		if err := svc.store.PutSetting(ctx, key, s); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
		s.Password = "********"
		respondJSON(w, http.StatusOK, s)
	case mailing.SettingSender:
		var s mailing.SenderProfile
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			respondError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := svc.store.PutSetting(ctx, key, s); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
		respondJSON(w, http.StatusOK, s)
	case mailing.SettingNotifications:
		s := mailing.DefaultNotificationSettings()
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			respondError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if s.FailureThreshold <= 0 {
			s.FailureThreshold = 10
		}
		if s.BounceThreshold <= 0 {
			s.BounceThreshold = 5
		}
		if err := svc.store.PutSetting(ctx, key, s); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
		respondJSON(w, http.StatusOK, s)
	case mailing.SettingSecurity:
		var s mailing.SecuritySettings
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			respondError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := svc.store.PutSetting(ctx, key, s); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
		respondJSON(w, http.StatusOK, s)
	default:
		respondError(w, http.StatusNotFound, "unknown settings key")
	}
}
