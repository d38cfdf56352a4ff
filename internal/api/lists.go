package api

import (
	"encoding/json"
	"net/http"

	"github.com/mailship/mailship/internal/mailing"
)

// HandleGetLists returns all lists with their member counts.
func (svc *MailingService) HandleGetLists(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lists, err := svc.store.ListLists(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load lists")
		return
	}

	out := make([]map[string]interface{}, 0, len(lists))
	for _, l := range lists {
		count, err := svc.store.ListSubscriberCount(ctx, l.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to count subscribers")
			return
		}
		out = append(out, map[string]interface{}{
			"id":               l.ID,
			"name":             l.Name,
			"description":      l.Description,
			"subscriber_count": count,
			"created_at":       l.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"lists": out, "total": len(out)})
}

// HandleCreateList creates a list.
func (svc *MailingService) HandleCreateList(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	l := &mailing.List{Name: input.Name, Description: input.Description}
	if err := svc.store.CreateList(r.Context(), l); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create list")
		return
	}
	respondJSON(w, http.StatusCreated, l)
}

// HandleGetList returns one list.
func (svc *MailingService) HandleGetList(w http.ResponseWriter, r *http.Request) {
	l, err := svc.store.GetList(r.Context(), urlParamInt64(r, "listID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load list")
		return
	}
	if l == nil {
		respondError(w, http.StatusNotFound, "list not found")
		return
	}
	respondJSON(w, http.StatusOK, l)
}

// HandleUpdateList updates a list's name and description.
func (svc *MailingService) HandleUpdateList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l, err := svc.store.GetList(ctx, urlParamInt64(r, "listID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load list")
		return
	}
	if l == nil {
		respondError(w, http.StatusNotFound, "list not found")
		return
	}

	var input struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if input.Name != "" {
		l.Name = input.Name
	}
	l.Description = input.Description

	if err := svc.store.UpdateList(ctx, l); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update list")
		return
	}
	respondJSON(w, http.StatusOK, l)
}

// HandleDeleteList deletes a list.
func (svc *MailingService) HandleDeleteList(w http.ResponseWriter, r *http.Request) {
	if err := svc.store.DeleteList(r.Context(), urlParamInt64(r, "listID")); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete list")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleGetListSubscribers returns a list's members.
func (svc *MailingService) HandleGetListSubscribers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	subs, err := svc.store.ListSubscribers(r.Context(), r.URL.Query().Get("status"), urlParamInt64(r, "listID"), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load subscribers")
		return
	}
	if subs == nil {
		subs = []*mailing.Subscriber{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"subscribers": subs, "total": len(subs)})
}

// HandleAddListMember adds a subscriber to a list.
func (svc *MailingService) HandleAddListMember(w http.ResponseWriter, r *http.Request) {
	err := svc.store.AddSubscriberToList(r.Context(), urlParamInt64(r, "subscriberID"), urlParamInt64(r, "listID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to add subscriber")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// HandleRemoveListMember removes a subscriber from a list.
func (svc *MailingService) HandleRemoveListMember(w http.ResponseWriter, r *http.Request) {
	err := svc.store.RemoveSubscriberFromList(r.Context(), urlParamInt64(r, "subscriberID"), urlParamInt64(r, "listID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to remove subscriber")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
