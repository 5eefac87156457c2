package routehandlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/JordanSekky/cereal/datastore"
	"github.com/JordanSekky/cereal/models"
	"github.com/JordanSekky/cereal/webutil"
)

type SubscriptionHandler struct {
	Subscriptions *datastore.SubscriptionRepository
	Books         *datastore.BookRepository
	Subscribers   *datastore.SubscriberRepository
}

func NewSubscriptionHandler(
	subscriptions *datastore.SubscriptionRepository,
	books *datastore.BookRepository,
	subscribers *datastore.SubscriberRepository,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		Subscriptions: subscriptions,
		Books:         books,
		Subscribers:   subscribers,
	}
}

type createSubscriptionRequest struct {
	SubscriberID uuid.UUID `json:"subscriberId"`
	BookID       uuid.UUID `json:"bookId"`
	ChunkSize    *int      `json:"chunkSize"`
}

func (h *SubscriptionHandler) HandleCreateSubscription(w http.ResponseWriter, r *http.Request) error {
	var req createSubscriptionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return webutil.ErrBadRequest("Invalid request payload: " + err.Error())
	}
	defer r.Body.Close()

	if req.SubscriberID == uuid.Nil || req.BookID == uuid.Nil {
		return webutil.ErrBadRequest("Missing required fields (subscriberId, bookId)")
	}
	chunkSize := 1
	if req.ChunkSize != nil {
		if *req.ChunkSize < 1 {
			return webutil.ErrBadRequest("Chunk size must be at least 1")
		}
		chunkSize = *req.ChunkSize
	}

	// Referenced rows are checked up front so the client gets a useful
	// message instead of a bare foreign key violation.
	if _, err := h.Books.GetBookByID(r.Context(), req.BookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrUnprocessableEntity("Book does not exist")
		}
		return fmt.Errorf("failed to verify book %s: %w", req.BookID, err)
	}
	if _, err := h.Subscribers.GetSubscriberByID(r.Context(), req.SubscriberID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrUnprocessableEntity("Subscriber does not exist")
		}
		return fmt.Errorf("failed to verify subscriber %s: %w", req.SubscriberID, err)
	}

	now := time.Now().UTC()
	newSubscription := models.Subscription{
		ID:           uuid.New(),
		SubscriberID: req.SubscriberID,
		BookID:       req.BookID,
		ChunkSize:    chunkSize,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.Subscriptions.CreateSubscription(r.Context(), &newSubscription); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return webutil.ErrConflict("Subscriber is already subscribed to this book")
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	webutil.RespondWithJSON(w, http.StatusCreated, newSubscription)
	return nil
}

func (h *SubscriptionHandler) HandleGetSubscriptions(w http.ResponseWriter, r *http.Request) error {
	if rawID := r.URL.Query().Get("subscriber_id"); rawID != "" {
		subscriberID, err := uuid.Parse(rawID)
		if err != nil {
			return webutil.ErrBadRequest("Invalid subscriber_id format")
		}
		subscriptions, err := h.Subscriptions.GetSubscriptionsBySubscriberID(r.Context(), subscriberID)
		if err != nil {
			return fmt.Errorf("failed to retrieve subscriptions for subscriber %s: %w", subscriberID, err)
		}
		if subscriptions == nil {
			subscriptions = []models.Subscription{}
		}
		webutil.RespondWithJSON(w, http.StatusOK, subscriptions)
		return nil
	}

	subscriptions, err := h.Subscriptions.GetSubscriptions(r.Context())
	if err != nil {
		return fmt.Errorf("failed to retrieve subscriptions: %w", err)
	}
	if subscriptions == nil {
		subscriptions = []models.Subscription{}
	}
	webutil.RespondWithJSON(w, http.StatusOK, subscriptions)
	return nil
}

func (h *SubscriptionHandler) HandleGetSubscription(w http.ResponseWriter, r *http.Request) error {
	subscriptionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return webutil.ErrBadRequest("Invalid subscription ID format")
	}

	subscription, err := h.Subscriptions.GetSubscriptionByID(r.Context(), subscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Subscription not found")
		}
		return fmt.Errorf("failed to retrieve subscription %s: %w", subscriptionID, err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, subscription)
	return nil
}

type updateSubscriptionRequest struct {
	ChunkSize int `json:"chunkSize"`
}

// HandleUpdateSubscription changes the chunk size. The cursor is owned by
// the delivery scheduler and is not writable over the API.
func (h *SubscriptionHandler) HandleUpdateSubscription(w http.ResponseWriter, r *http.Request) error {
	subscriptionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return webutil.ErrBadRequest("Invalid subscription ID format")
	}

	var req updateSubscriptionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return webutil.ErrBadRequest("Invalid request payload: " + err.Error())
	}
	defer r.Body.Close()

	if req.ChunkSize < 1 {
		return webutil.ErrBadRequest("Chunk size must be at least 1")
	}

	subscription, err := h.Subscriptions.UpdateChunkSize(r.Context(), subscriptionID, req.ChunkSize)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webutil.ErrNotFound("Subscription not found")
		}
		return fmt.Errorf("failed to update subscription %s: %w", subscriptionID, err)
	}

	webutil.RespondWithJSON(w, http.StatusOK, subscription)
	return nil
}

func (h *SubscriptionHandler) HandleDeleteSubscription(w http.ResponseWriter, r *http.Request) error {
	subscriptionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return webutil.ErrBadRequest("Invalid subscription ID format")
	}

	if err := h.Subscriptions.DeleteSubscription(r.Context(), subscriptionID); err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", subscriptionID, err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
