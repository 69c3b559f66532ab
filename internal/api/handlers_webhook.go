/**
 * @description
 * This file contains the HTTP handlers for the unauthenticated gateway
 * ingress: the Razorpay webhook and the PhonePe server callback. Both are
 * thin translators from the transport envelope into a TransactionNotification
 * handed to the reconciler.
 *
 * Response policy: once a notification parses, the handler answers with a
 * success-shaped status even for business-level rejections, because gateways
 * retry non-2xx deliveries indefinitely and a rejected notification is not a
 * delivery failure. 4xx is reserved for malformed, unparseable bodies.
 */

package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/techwave-ventures/payment-service/internal/app"
	"github.com/techwave-ventures/payment-service/internal/domain"
	"github.com/techwave-ventures/payment-service/pkg/razorpayclient"
)

// WebhookHandler processes incoming gateway notifications.
type WebhookHandler struct {
	reconciler *app.Reconciler
}

// NewWebhookHandler creates a handler for the gateway ingress endpoints.
func NewWebhookHandler(reconciler *app.Reconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// razorpayWebhookEvent mirrors the Razorpay webhook envelope for the payment
// events this service cares about.
type razorpayWebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string                    `json:"id"`
				OrderID          string                    `json:"order_id"`
				Amount           int64                     `json:"amount"`
				Status           string                    `json:"status"`
				ErrorDescription string                    `json:"error_description"`
				Notes            razorpayclient.OrderNotes `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// HandleRazorpayWebhook handles POST /webhooks/razorpay.
func (h *WebhookHandler) HandleRazorpayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	var event razorpayWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=api flow=webhook msg=\"malformed webhook body\" err=%v", err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	entity := event.Payload.Payment.Entity
	switch event.Event {
	case "payment.captured", "payment.failed":
	default:
		log.Printf("level=info component=api flow=webhook msg=\"ignoring unhandled event type\" event=%s", event.Event)
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	transactionID, err := uuid.Parse(entity.Notes.TransactionID)
	if err != nil {
		// The order carries metadata this service did not write; treat as a
		// foreign notification, not a delivery failure.
		log.Printf("level=warn component=api flow=webhook msg=\"webhook without usable transaction id\" event=%s payment_id=%s order_id=%s", event.Event, entity.ID, entity.OrderID)
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	notification := &domain.TransactionNotification{
		Gateway:          domain.GatewayRazorpay,
		Flow:             domain.FlowWebhook,
		TransactionID:    transactionID,
		GatewayPaymentID: entity.ID,
		ClaimedAmount:    entity.Amount,
		ClaimedPlanID:    entity.Notes.PlanID,
		ClaimedPurpose:   domain.PurchasePurpose(entity.Notes.PurchaseType),
		GatewayFailed:    event.Event == "payment.failed",
		FailureReason:    entity.ErrorDescription,
		SignedPayload:    body,
		Signature:        r.Header.Get("x-razorpay-signature"),
	}

	outcome, err := h.reconciler.Reconcile(r.Context(), notification)
	if err != nil {
		// Store failure: nothing was applied; let the gateway redeliver.
		log.Printf("level=error component=api flow=webhook msg=\"reconciliation failed\" transaction_id=%s err=%v", transactionID, err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "outcome": string(outcome.Status)})
}

// phonePeCallback mirrors the PhonePe server-to-server callback: a base64
// response document whose checksum travels in the X-VERIFY header.
type phonePeCallback struct {
	Response string `json:"response"`
}

type phonePeCallbackBody struct {
	Code string `json:"code"`
	Data struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
	} `json:"data"`
}

// HandlePhonePeCallback handles POST /webhooks/phonepe.
func (h *WebhookHandler) HandlePhonePeCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	var envelope phonePeCallback
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Response == "" {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Response)
	if err != nil {
		http.Error(w, "Invalid base64 response payload", http.StatusBadRequest)
		return
	}
	var callback phonePeCallbackBody
	if err := json.Unmarshal(decoded, &callback); err != nil {
		http.Error(w, "Invalid callback payload", http.StatusBadRequest)
		return
	}

	transactionID, err := uuid.Parse(callback.Data.MerchantTransactionID)
	if err != nil {
		log.Printf("level=warn component=api flow=phonepe_callback msg=\"callback without usable transaction id\" code=%s", callback.Code)
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	notification := &domain.TransactionNotification{
		Gateway:          domain.GatewayPhonePe,
		Flow:             domain.FlowWebhook,
		TransactionID:    transactionID,
		GatewayPaymentID: callback.Data.TransactionID,
		ClaimedAmount:    callback.Data.Amount,
		GatewayFailed:    callback.Code != "PAYMENT_SUCCESS",
		FailureReason:    callback.Code,
		// PhonePe signs the base64 document, not the decoded JSON.
		SignedPayload: []byte(envelope.Response),
		Signature:     r.Header.Get("X-VERIFY"),
	}

	outcome, err := h.reconciler.Reconcile(r.Context(), notification)
	if err != nil {
		log.Printf("level=error component=api flow=phonepe_callback msg=\"reconciliation failed\" transaction_id=%s err=%v", transactionID, err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "outcome": string(outcome.Status)})
}
