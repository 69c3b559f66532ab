package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/techwave-ventures/payment-service/internal/app"
	"github.com/techwave-ventures/payment-service/internal/domain"
	"github.com/techwave-ventures/payment-service/internal/plans"
	"github.com/techwave-ventures/payment-service/internal/store"
)

type webhookRepoStub struct {
	store.Repository

	ent *domain.Entitlement

	completeCalled bool
	failCalled     bool
}

func (s *webhookRepoStub) FindEntitlementByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Entitlement, error) {
	if s.ent == nil {
		return nil, store.ErrEntitlementNotFound
	}
	return s.ent, nil
}

func (s *webhookRepoStub) CompletePendingTransaction(ctx context.Context, userID uuid.UUID, transactionID uuid.UUID, grant store.GrantParams) (bool, *domain.Entitlement, error) {
	s.completeCalled = true
	return true, &domain.Entitlement{UserID: userID, PaymentStatus: domain.PaymentStatusCompleted, UsageLimit: 30}, nil
}

func (s *webhookRepoStub) FailPendingTransaction(ctx context.Context, userID uuid.UUID, transactionID uuid.UUID, reason string) (bool, error) {
	s.failCalled = true
	return true, nil
}

type webhookVerifierStub struct {
	ok bool
}

func (v *webhookVerifierStub) Verify(n *domain.TransactionNotification) bool {
	return v.ok
}

func newWebhookHandlerForTest(repo *webhookRepoStub, signatureOK bool) *WebhookHandler {
	reconciler := app.NewReconciler(repo, plans.NewDefaultCatalog(), &webhookVerifierStub{ok: signatureOK}, nil, 10000)
	return NewWebhookHandler(reconciler)
}

func razorpayEventBody(t *testing.T, event string, txnID uuid.UUID, amount int64) []byte {
	t.Helper()
	body := fmt.Sprintf(`{
		"event": %q,
		"payload": {"payment": {"entity": {
			"id": "pay_123",
			"order_id": "order_123",
			"amount": %d,
			"status": "captured",
			"notes": {"userId": %q, "transactionId": %q, "planId": "pro", "purchaseType": "plan"}
		}}}
	}`, event, amount, uuid.New().String(), txnID.String())
	return []byte(body)
}

func pendingWebhookEntitlement(txnID uuid.UUID) *domain.Entitlement {
	planID := "pro"
	return &domain.Entitlement{
		UserID:               uuid.New(),
		PaymentStatus:        domain.PaymentStatusPending,
		PendingTransactionID: &txnID,
		PendingPlanID:        &planID,
		PendingPurpose:       domain.PurposePlan,
		PendingAmount:        79900,
		UsageLimit:           5,
	}
}

func TestHandleRazorpayWebhookRejectsMalformedBody(t *testing.T) {
	handler := newWebhookHandlerForTest(&webhookRepoStub{}, true)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	handler.HandleRazorpayWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestHandleRazorpayWebhookIgnoresUnhandledEvents(t *testing.T) {
	repo := &webhookRepoStub{}
	handler := newWebhookHandlerForTest(repo, true)

	body := razorpayEventBody(t, "order.paid", uuid.New(), 79900)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	handler.HandleRazorpayWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unhandled event, got %d", rec.Code)
	}
	if repo.completeCalled || repo.failCalled {
		t.Fatalf("an unhandled event must not reach the store")
	}
}

func TestHandleRazorpayWebhookAnswersOKOnBusinessRejection(t *testing.T) {
	// A tampered signature is a business rejection, not a delivery failure;
	// a non-2xx answer would make the gateway redeliver forever.
	txnID := uuid.New()
	repo := &webhookRepoStub{ent: pendingWebhookEntitlement(txnID)}
	handler := newWebhookHandlerForTest(repo, false)

	body := razorpayEventBody(t, "payment.captured", txnID, 79900)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewBuffer(body))
	req.Header.Set("x-razorpay-signature", "forged")
	rec := httptest.NewRecorder()
	handler.HandleRazorpayWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for rejected notification, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["outcome"] != string(domain.ReconcileBadSignature) {
		t.Fatalf("expected bad-signature outcome, got %q", resp["outcome"])
	}
	if repo.completeCalled {
		t.Fatalf("a rejected notification must not credit usage")
	}
}

func TestHandleRazorpayWebhookAppliesCapturedPayment(t *testing.T) {
	txnID := uuid.New()
	repo := &webhookRepoStub{ent: pendingWebhookEntitlement(txnID)}
	handler := newWebhookHandlerForTest(repo, true)

	body := razorpayEventBody(t, "payment.captured", txnID, 79900)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewBuffer(body))
	req.Header.Set("x-razorpay-signature", "valid")
	rec := httptest.NewRecorder()
	handler.HandleRazorpayWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !repo.completeCalled {
		t.Fatalf("expected the captured payment to be credited")
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["outcome"] != string(domain.ReconcileApplied) {
		t.Fatalf("expected applied outcome, got %q", resp["outcome"])
	}
}

func TestHandleRazorpayWebhookMarksFailedPayment(t *testing.T) {
	txnID := uuid.New()
	repo := &webhookRepoStub{ent: pendingWebhookEntitlement(txnID)}
	handler := newWebhookHandlerForTest(repo, true)

	body := razorpayEventBody(t, "payment.failed", txnID, 79900)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	handler.HandleRazorpayWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !repo.failCalled || repo.completeCalled {
		t.Fatalf("a failed payment must mark the record failed and never credit")
	}
}

func TestHandleRazorpayWebhookIgnoresForeignNotes(t *testing.T) {
	repo := &webhookRepoStub{}
	handler := newWebhookHandlerForTest(repo, true)

	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","notes":{"transactionId":"not-a-uuid"}}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	handler.HandleRazorpayWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a foreign notification, got %d", rec.Code)
	}
	if repo.completeCalled || repo.failCalled {
		t.Fatalf("a foreign notification must not reach the store")
	}
}

func phonePeCallbackEnvelope(t *testing.T, code string, txnID uuid.UUID, amount int64) []byte {
	t.Helper()
	inner := fmt.Sprintf(`{"code":%q,"data":{"merchantTransactionId":%q,"transactionId":"T123","amount":%d}}`, code, txnID.String(), amount)
	encoded := base64.StdEncoding.EncodeToString([]byte(inner))
	return []byte(fmt.Sprintf(`{"response":%q}`, encoded))
}

func TestHandlePhonePeCallbackRejectsBadEnvelopes(t *testing.T) {
	handler := newWebhookHandlerForTest(&webhookRepoStub{}, true)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{oops"},
		{name: "missing response field", body: `{"something":"else"}`},
		{name: "response not base64", body: `{"response":"%%%not-base64%%%"}`},
		{name: "decoded payload not json", body: fmt.Sprintf(`{"response":%q}`, base64.StdEncoding.EncodeToString([]byte("not json")))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/phonepe", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			handler.HandlePhonePeCallback(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestHandlePhonePeCallbackMarksFailureForNonSuccessCodes(t *testing.T) {
	txnID := uuid.New()
	repo := &webhookRepoStub{ent: pendingWebhookEntitlement(txnID)}
	handler := newWebhookHandlerForTest(repo, true)

	body := phonePeCallbackEnvelope(t, "PAYMENT_ERROR", txnID, 79900)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/phonepe", bytes.NewBuffer(body))
	req.Header.Set("X-VERIFY", "checksum###1")
	rec := httptest.NewRecorder()
	handler.HandlePhonePeCallback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !repo.failCalled || repo.completeCalled {
		t.Fatalf("a non-success callback must mark the record failed")
	}
}

func TestHandlePhonePeCallbackAppliesSuccessfulPayment(t *testing.T) {
	txnID := uuid.New()
	repo := &webhookRepoStub{ent: pendingWebhookEntitlement(txnID)}
	handler := newWebhookHandlerForTest(repo, true)

	body := phonePeCallbackEnvelope(t, "PAYMENT_SUCCESS", txnID, 79900)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/phonepe", bytes.NewBuffer(body))
	req.Header.Set("X-VERIFY", "checksum###1")
	rec := httptest.NewRecorder()
	handler.HandlePhonePeCallback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !repo.completeCalled {
		t.Fatalf("expected a successful callback to credit the pending purchase")
	}
}
