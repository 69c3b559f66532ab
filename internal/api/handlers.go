/**
 * @description
 * This file contains the HTTP handler functions for the authenticated,
 * user-facing payment endpoints: plan purchase initiation, a-la-carte top-up
 * initiation, synchronous payment verification, entitlement status, and usage
 * consumption. Handlers parse incoming requests, call the appropriate business
 * logic, and write the HTTP response.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/techwave-ventures/payment-service/internal/app"
	"github.com/techwave-ventures/payment-service/internal/domain"
	"github.com/techwave-ventures/payment-service/internal/plans"
	"github.com/techwave-ventures/payment-service/internal/store"
	"github.com/techwave-ventures/payment-service/pkg/razorpayclient"
)

// Handler holds the application services the handlers interact with.
type Handler struct {
	service      *app.Service
	reconciler   *app.Reconciler
	limiter      *app.RedisRateLimiter
	initiateRate int
}

// NewHandler creates a new Handler.
func NewHandler(service *app.Service, reconciler *app.Reconciler, limiter *app.RedisRateLimiter, initiateRatePerMinute int) *Handler {
	return &Handler{
		service:      service,
		reconciler:   reconciler,
		limiter:      limiter,
		initiateRate: initiateRatePerMinute,
	}
}

// handleInitiatePlan opens a gateway order for a plan purchase, or activates
// a zero-price plan directly through the self-service path.
func (h *Handler) handleInitiatePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.allowInitiation(w, r, userID.String()) {
		return
	}

	var req struct {
		PlanID string `json:"planId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlanID == "" {
		respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "planId is required"})
		return
	}

	handle, err := h.service.InitiatePlanPurchase(r.Context(), userID, req.PlanID)
	if err != nil {
		if errors.Is(err, app.ErrSelfServicePlan) {
			activation, actErr := h.service.ActivateSelfServicePlan(r.Context(), userID, req.PlanID)
			if actErr != nil {
				respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": actErr.Error()})
				return
			}
			respondWithJSON(w, http.StatusOK, map[string]interface{}{
				"success":     true,
				"plan":        activation.PlanID,
				"usage_limit": activation.UsageLimit,
			})
			return
		}
		h.respondInitiationError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"transaction_id": handle.TransactionID,
		"order_id":       handle.GatewayOrderID,
		"amount":         handle.Amount,
		"currency":       handle.Currency,
		"key_id":         handle.KeyID,
		"description":    handle.Description,
	})
}

// handleBuyLimit opens a gateway order for one additional generation.
func (h *Handler) handleBuyLimit(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.allowInitiation(w, r, userID.String()) {
		return
	}

	handle, err := h.service.InitiateUsageTopUp(r.Context(), userID)
	if err != nil {
		h.respondInitiationError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"transaction_id": handle.TransactionID,
		"order_id":       handle.GatewayOrderID,
		"amount":         handle.Amount,
		"key_id":         handle.KeyID,
		"description":    handle.Description,
	})
}

// handleVerifyPayment is the synchronous, user-facing verification endpoint.
// Unlike the webhook it may return true error statuses: the caller is the end
// user's own session.
func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		OrderID   string `json:"razorpay_order_id"`
		PaymentID string `json:"razorpay_payment_id"`
		Signature string `json:"razorpay_signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" || req.PaymentID == "" {
		respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "order and payment identifiers are required"})
		return
	}

	notification, ownerID, err := h.service.BuildCheckoutNotification(r.Context(), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		var gwErr *razorpayclient.ErrorResponse
		if errors.As(err, &gwErr) && gwErr.IsRetryable() {
			respondWithJSON(w, http.StatusBadGateway, map[string]interface{}{"success": false, "message": "payment gateway unavailable; please retry"})
			return
		}
		respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": err.Error()})
		return
	}

	// The caller's session must own the pending record named by the order.
	if ownerID != userID {
		log.Printf("level=warn component=api flow=verify msg=\"session user does not own order\" session_user=%s order_user=%s order_id=%s", userID, ownerID, req.OrderID)
		respondWithJSON(w, http.StatusForbidden, map[string]interface{}{"success": false, "message": "order does not belong to the authenticated user"})
		return
	}

	outcome, err := h.reconciler.Reconcile(r.Context(), notification)
	if err != nil {
		respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": "internal error during verification"})
		return
	}

	switch outcome.Status {
	case domain.ReconcileApplied, domain.ReconcileAlreadyProcessed:
		status, statusErr := h.service.GetStatus(r.Context(), userID)
		if statusErr != nil {
			respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": "verified, but status lookup failed"})
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"plan":     status.PlanID,
			"newLimit": status.UsageLimit,
		})
	case domain.ReconcileBadSignature:
		respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "Invalid signature"})
	case domain.ReconcileUnknownTxn:
		respondWithJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "message": "no pending purchase matches this payment"})
	case domain.ReconcileAmountMismatch, domain.ReconcileAppliedFailed:
		respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "payment not yet confirmed"})
	default:
		respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": "unexpected reconciliation outcome"})
	}
}

// handleGetStatus returns the caller's entitlement status.
func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status, err := h.service.GetStatus(r.Context(), userID)
	if err != nil {
		respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": err.Error()})
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// handleConsumeUsage spends one generation on behalf of the caller.
func (h *Handler) handleConsumeUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status, err := h.service.ConsumeUsage(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUsageLimitReached) {
			respondWithJSON(w, http.StatusForbidden, map[string]interface{}{"success": false, "message": "Usage Limit Reached. Buy more limit to continue"})
			return
		}
		if errors.Is(err, store.ErrEntitlementNotFound) {
			respondWithJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "message": "User not found."})
			return
		}
		respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": err.Error()})
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

func (h *Handler) respondInitiationError(w http.ResponseWriter, err error) {
	var planErr *plans.ErrPlanNotFound
	if errors.As(err, &planErr) {
		respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": planErr.Error()})
		return
	}
	var gwErr *razorpayclient.ErrorResponse
	if errors.As(err, &gwErr) {
		if gwErr.IsRetryable() {
			respondWithJSON(w, http.StatusBadGateway, map[string]interface{}{"success": false, "message": "payment gateway unavailable; please retry"})
			return
		}
		respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": gwErr.Error()})
		return
	}
	respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": err.Error()})
}

// allowInitiation applies the per-user rate limit to order initiation.
func (h *Handler) allowInitiation(w http.ResponseWriter, r *http.Request, subject string) bool {
	if h.limiter == nil || h.initiateRate <= 0 {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "payment:initiate", subject, h.initiateRate, time.Minute)
	if err != nil {
		// Limiter trouble must not block payments.
		log.Printf("level=warn component=api flow=initiate msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		return true
	}
	if count > h.initiateRate {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		respondWithJSON(w, http.StatusTooManyRequests, map[string]interface{}{"success": false, "message": "too many purchase attempts; slow down"})
		return false
	}
	return true
}

// respondWithJSON is a helper function to write JSON responses.
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
