// Package api exposes the admin REST surface: lists, subscribers, campaigns,
// templates, settings and the dashboard.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mailship/mailship/internal/mailing"
)

// MailingService carries the handlers' dependencies.
type MailingService struct {
	store          *mailing.Store
	allowedOrigins []string
}

// NewMailingService creates the admin API service.
func NewMailingService(store *mailing.Store, allowedOrigins []string) *MailingService {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	return &MailingService{store: store, allowedOrigins: allowedOrigins}
}

// Routes builds the admin API router.
func (svc *MailingService) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   svc.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", svc.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/lists", func(r chi.Router) {
			r.Get("/", svc.HandleGetLists)
			r.Post("/", svc.HandleCreateList)
			r.Get("/{listID}", svc.HandleGetList)
			r.Put("/{listID}", svc.HandleUpdateList)
			r.Delete("/{listID}", svc.HandleDeleteList)
			r.Get("/{listID}/subscribers", svc.HandleGetListSubscribers)
			r.Post("/{listID}/subscribers/{subscriberID}", svc.HandleAddListMember)
			r.Delete("/{listID}/subscribers/{subscriberID}", svc.HandleRemoveListMember)
		})

		r.Route("/subscribers", func(r chi.Router) {
			r.Get("/", svc.HandleGetSubscribers)
			r.Post("/", svc.HandleCreateSubscriber)
			r.Post("/import", svc.HandleImportSubscribers)
			r.Get("/export", svc.HandleExportSubscribers)
			r.Get("/{subscriberID}", svc.HandleGetSubscriber)
			r.Put("/{subscriberID}", svc.HandleUpdateSubscriber)
			r.Delete("/{subscriberID}", svc.HandleDeleteSubscriber)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", svc.HandleGetCampaigns)
			r.Post("/", svc.HandleCreateCampaign)
			r.Get("/{campaignID}", svc.HandleGetCampaign)
			r.Put("/{campaignID}", svc.HandleUpdateCampaign)
			r.Delete("/{campaignID}", svc.HandleDeleteCampaign)
			r.Post("/{campaignID}/send", svc.HandleSendCampaign)
			r.Post("/{campaignID}/schedule", svc.HandleScheduleCampaign)
			r.Get("/{campaignID}/stats", svc.HandleCampaignStats)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", svc.HandleGetTemplates)
			r.Post("/", svc.HandleCreateTemplate)
			r.Get("/{templateID}", svc.HandleGetTemplate)
			r.Put("/{templateID}", svc.HandleUpdateTemplate)
			r.Delete("/{templateID}", svc.HandleDeleteTemplate)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/{key}", svc.HandleGetSettings)
			r.Put("/{key}", svc.HandlePutSettings)
		})

		r.Get("/dashboard", svc.HandleDashboard)
	})

	return r
}

func (svc *MailingService) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func urlParamInt64(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
