package routehandlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JordanSekky/cereal/datastore"
	"github.com/JordanSekky/cereal/models"
	"github.com/JordanSekky/cereal/webutil"
)

type SubscriberHandler struct {
	Repo *datastore.SubscriberRepository
}

func NewSubscriberHandler(repo *datastore.SubscriberRepository) *SubscriberHandler {
	return &SubscriberHandler{Repo: repo}
}

type createSubscriberRequest struct {
	Name        string  `json:"name"`
	KindleEmail *string `json:"kindleEmail"`
	PushoverKey *string `json:"pushoverKey"`
}

func (h *SubscriberHandler) HandleCreateSubscriber(w http.ResponseWriter, r *http.Request) error {
	var req createSubscriberRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return webutil.ErrBadRequest("Invalid request payload: " + err.Error())
	}
	defer r.Body.Close()

	if req.Name == "" {
		return webutil.ErrBadRequest("Name is required")
	}
	if req.KindleEmail != nil {
		if _, err := mail.ParseAddress(*req.KindleEmail); err != nil {
			return webutil.ErrBadRequest("Invalid kindle email address")
		}
	}

	now := time.Now().UTC()
	newSubscriber := models.Subscriber{
		ID:          uuid.New(),
		Name:        req.Name,
		KindleEmail: req.KindleEmail,
		PushoverKey: req.PushoverKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.Repo.CreateSubscriber(r.Context(), &newSubscriber); err != nil {
		return fmt.Errorf("failed to create subscriber %q: %w", req.Name, err)
	}

	webutil.RespondWithJSON(w, http.StatusCreated, newSubscriber)
	return nil
}

func (h *SubscriberHandler) HandleGetSubscribers(w http.ResponseWriter, r *http.Request) error {
	subscribers, err := h.Repo.GetSubscribers(r.Context())
	if err != nil {
		return fmt.Errorf("failed to retrieve subscribers: %w", err)
	}
	if subscribers == nil {
		subscribers = []models.Subscriber{}
	}
	webutil.RespondWithJSON(w, http.StatusOK, subscribers)
	return nil
}

func (h *SubscriberHandler) HandleGetSubscriber(w http.ResponseWriter, r *http.Request) error {
	subscriberID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return webutil.ErrBadRequest("Invalid subscriber ID format")
	}

	subscriber, err := h.Repo.GetSubscriberByID(r.Context(), subscriberID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Subscriber not found")
		}
		return fmt.Errorf("failed to retrieve subscriber %s: %w", subscriberID, err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, subscriber)
	return nil
}

type updateSubscriberRequest struct {
	Name        *string `json:"name"`
	KindleEmail *string `json:"kindleEmail"`
	PushoverKey *string `json:"pushoverKey"`
}

func (h *SubscriberHandler) HandleUpdateSubscriber(w http.ResponseWriter, r *http.Request) error {
	subscriberID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return webutil.ErrBadRequest("Invalid subscriber ID format")
	}

	var req updateSubscriberRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return webutil.ErrBadRequest("Invalid request payload: " + err.Error())
	}
	defer r.Body.Close()

	if req.Name == nil && req.KindleEmail == nil && req.PushoverKey == nil {
		return webutil.ErrBadRequest("No updatable fields provided")
	}
	if req.Name != nil && *req.Name == "" {
		return webutil.ErrBadRequest("Name cannot be empty")
	}
	if req.KindleEmail != nil && *req.KindleEmail != "" {
		if _, err := mail.ParseAddress(*req.KindleEmail); err != nil {
			return webutil.ErrBadRequest("Invalid kindle email address")
		}
	}

	subscriber, err := h.Repo.UpdateSubscriber(r.Context(), subscriberID, req.Name, req.KindleEmail, req.PushoverKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Subscriber not found")
		}
		return fmt.Errorf("failed to update subscriber %s: %w", subscriberID, err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, subscriber)
	return nil
}

// Deleting a subscriber cascades to their subscriptions.
func (h *SubscriberHandler) HandleDeleteSubscriber(w http.ResponseWriter, r *http.Request) error {
	subscriberID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return webutil.ErrBadRequest("Invalid subscriber ID format")
	}

	if err := h.Repo.DeleteSubscriber(r.Context(), subscriberID); err != nil {
		return fmt.Errorf("failed to delete subscriber %s: %w", subscriberID, err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
