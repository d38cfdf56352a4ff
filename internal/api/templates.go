package api

import (
	"encoding/json"
	"net/http"

	"github.com/mailship/mailship/internal/mailing"
)

// HandleGetTemplates returns all templates.
func (svc *MailingService) HandleGetTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := svc.store.ListTemplates(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load templates")
		return
	}
	if templates == nil {
		templates = []*mailing.Template{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"templates": templates, "total": len(templates)})
}

// HandleCreateTemplate creates a template.
func (svc *MailingService) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name string `json:"name"`
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	t := &mailing.Template{Name: input.Name, Body: input.Body}
	if err := svc.store.CreateTemplate(r.Context(), t); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create template")
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// HandleGetTemplate returns one template.
func (svc *MailingService) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := svc.store.GetTemplate(r.Context(), urlParamInt64(r, "templateID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	if t == nil {
		respondError(w, http.StatusNotFound, "template not found")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// HandleUpdateTemplate updates a template.
func (svc *MailingService) HandleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := svc.store.GetTemplate(ctx, urlParamInt64(r, "templateID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	if t == nil {
		respondError(w, http.StatusNotFound, "template not found")
		return
	}

	var input struct {
		Name string `json:"name"`
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if input.Name != "" {
		t.Name = input.Name
	}
	t.Body = input.Body

	if err := svc.store.UpdateTemplate(ctx, t); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update template")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// HandleDeleteTemplate deletes a template.
func (svc *MailingService) HandleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := svc.store.DeleteTemplate(r.Context(), urlParamInt64(r, "templateID")); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete template")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
