/**
 * @description
 * HTTP handlers for user-driven subscription actions: status lookup, manual
 * renewal, cancellation, and the auto-renew toggle. These are the only paths
 * besides the schedulers that may transition a subscription.
 */
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nimbushost/lifecycle-service/internal/app"
	"github.com/nimbushost/lifecycle-service/internal/domain"
	"github.com/nimbushost/lifecycle-service/internal/store"
)

// Handler holds the collaborators the HTTP layer needs.
type Handler struct {
	repo           app.Repository
	renewer        *app.Renewer
	orchestrator   *app.Orchestrator
	limiter        *app.RedisRenewalRateLimiter
	logger         *slog.Logger
	renewRateLimit int
}

// NewHandler creates a new Handler.
func NewHandler(repo app.Repository, renewer *app.Renewer, orchestrator *app.Orchestrator, limiter *app.RedisRenewalRateLimiter, logger *slog.Logger, renewRateLimit int) *Handler {
	return &Handler{
		repo:           repo,
		renewer:        renewer,
		orchestrator:   orchestrator,
		limiter:        limiter,
		logger:         logger,
		renewRateLimit: renewRateLimit,
	}
}

// ownedSubscription loads the subscription from the URL and verifies the
// authenticated user owns it.
func (h *Handler) ownedSubscription(w http.ResponseWriter, r *http.Request) *domain.Subscription {
	userID, ok := AuthenticatedUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil
	}

	subID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid subscription id", http.StatusBadRequest)
		return nil
	}

	sub, err := h.repo.GetSubscriptionByID(r.Context(), subID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			http.Error(w, "Subscription not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return nil
	}

	if sub.UserID.String() != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil
	}
	return sub
}

// handleGetSubscription returns the hydrated subscription.
func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub := h.ownedSubscription(w, r)
	if sub == nil {
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

// handleManualRenew charges the wallet for one cycle immediately.
func (h *Handler) handleManualRenew(w http.ResponseWriter, r *http.Request) {
	sub := h.ownedSubscription(w, r)
	if sub == nil {
		return
	}

	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "manual_renew", sub.UserID.String(), h.renewRateLimit, time.Minute)
	if err != nil {
		h.logger.Warn("renewal rate limiter unavailable", "error", err)
	} else if h.renewRateLimit > 0 && count > h.renewRateLimit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		http.Error(w, "Too many renewal attempts", http.StatusTooManyRequests)
		return
	}

	result := h.renewer.Renew(r.Context(), sub.ID, false)
	status := http.StatusOK
	if !result.Success {
		switch result.Reason {
		case app.ReasonInsufficientFunds:
			status = http.StatusPaymentRequired
		case app.ReasonFreeTrial:
			status = http.StatusUnprocessableEntity
		case app.ReasonNotFound:
			status = http.StatusNotFound
		default:
			status = http.StatusInternalServerError
		}
	}
	respondWithJSON(w, status, result)
}

// handleCancel hard-deletes the VPS but keeps the subscription row with
// status 'cancelled' for audit and invoice history.
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	sub := h.ownedSubscription(w, r)
	if sub == nil {
		return
	}

	result := h.orchestrator.Terminate(r.Context(), sub, domain.StatusCancelled)
	if !result.Success {
		status := http.StatusInternalServerError
		if result.Retryable {
			status = http.StatusServiceUnavailable
		}
		respondWithJSON(w, status, result)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// handleSetAutoRenew toggles auto-renewal.
func (h *Handler) handleSetAutoRenew(w http.ResponseWriter, r *http.Request) {
	sub := h.ownedSubscription(w, r)
	if sub == nil {
		return
	}

	var req struct {
		AutoRenew bool `json:"auto_renew"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.repo.SetAutoRenew(r.Context(), sub.ID, req.AutoRenew); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"auto_renew": req.AutoRenew})
}

// respondWithJSON is a helper to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
