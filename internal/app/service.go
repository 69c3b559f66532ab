/**
 * @description
 * This file contains the order-initiation side of the payment-service business
 * logic. The Service opens payment orders with the gateway for plan purchases
 * and a-la-carte usage top-ups, activates zero-price plans through the
 * self-service path, and exposes entitlement status and usage consumption.
 *
 * Ordering invariant: the entitlement record is transitioned to pending and
 * persisted BEFORE the external gateway is contacted. If the gateway call
 * fails after the local write, the system fails safe into a recoverable
 * "stuck pending" state; the reverse ordering could leave a paid order with
 * no local record to reconcile against.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/techwave-ventures/payment-service/internal/domain"
	"github.com/techwave-ventures/payment-service/internal/plans"
	"github.com/techwave-ventures/payment-service/internal/signature"
	"github.com/techwave-ventures/payment-service/internal/store"
	"github.com/techwave-ventures/payment-service/pkg/razorpayclient"
)

const topUpGrantUnits = 1

var (
	// ErrSelfServicePlan is returned when a zero-price plan is pushed through
	// the paid purchase path.
	ErrSelfServicePlan = errors.New("plan requires no payment; use the self-service activation path")
	// ErrPaidPlan is returned when a priced plan is pushed through the
	// self-service path.
	ErrPaidPlan = errors.New("plan requires payment; use the purchase path")
)

// GatewayClient is the subset of the Razorpay client the service depends on.
type GatewayClient interface {
	CreateOrder(ctx context.Context, req razorpayclient.CreateOrderRequest) (*razorpayclient.Order, error)
	FetchOrder(ctx context.Context, orderID string) (*razorpayclient.Order, error)
}

// ServiceConfig carries the knobs the service needs from configuration.
type ServiceConfig struct {
	// FreeTierLimit seeds usage_limit for entitlement rows created on first touch.
	FreeTierLimit int
	// TopUpPrice is the fixed price of one additional generation, in paise.
	TopUpPrice int64
	Currency   string
	// GatewayKeyID is surfaced to the frontend checkout in the order handle.
	GatewayKeyID string
}

// Service provides order initiation and entitlement queries.
type Service struct {
	repo    store.Repository
	catalog *plans.Catalog
	gateway GatewayClient
	cfg     ServiceConfig
}

// NewService creates a new payment service.
func NewService(repo store.Repository, catalog *plans.Catalog, gateway GatewayClient, cfg ServiceConfig) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Service{repo: repo, catalog: catalog, gateway: gateway, cfg: cfg}
}

// InitiatePlanPurchase opens a gateway order for a priced plan and records the
// pending entitlement transition first.
func (s *Service) InitiatePlanPurchase(ctx context.Context, userID uuid.UUID, planID string) (*domain.OrderHandle, error) {
	plan, err := s.catalog.Lookup(planID)
	if err != nil {
		return nil, err
	}
	if plan.SelfService() {
		return nil, ErrSelfServicePlan
	}

	return s.initiateOrder(ctx, userID, store.MarkPendingParams{
		TransactionID: uuid.New(),
		PlanID:        plan.ID,
		Purpose:       domain.PurposePlan,
		Amount:        plan.UnitPrice,
	}, fmt.Sprintf("%s Purchase", plan.DisplayName))
}

// InitiateUsageTopUp opens a gateway order for one additional generation.
func (s *Service) InitiateUsageTopUp(ctx context.Context, userID uuid.UUID) (*domain.OrderHandle, error) {
	return s.initiateOrder(ctx, userID, store.MarkPendingParams{
		TransactionID: uuid.New(),
		Purpose:       domain.PurposeAdditionalLimit,
		Amount:        s.cfg.TopUpPrice,
	}, "Additional College List Generation")
}

func (s *Service) initiateOrder(ctx context.Context, userID uuid.UUID, pending store.MarkPendingParams, description string) (*domain.OrderHandle, error) {
	if _, err := s.repo.EnsureEntitlement(ctx, userID, s.cfg.FreeTierLimit); err != nil {
		return nil, fmt.Errorf("ensure entitlement: %w", err)
	}

	// Pending write precedes the external call. Do not reorder.
	if err := s.repo.MarkPurchasePending(ctx, userID, pending); err != nil {
		return nil, fmt.Errorf("mark purchase pending: %w", err)
	}

	order, err := s.gateway.CreateOrder(ctx, razorpayclient.CreateOrderRequest{
		Amount:   pending.Amount,
		Currency: s.cfg.Currency,
		Receipt:  buildOrderReceipt(pending.Purpose, userID),
		Notes: razorpayclient.OrderNotes{
			UserID:        userID.String(),
			TransactionID: pending.TransactionID.String(),
			PlanID:        pending.PlanID,
			PurchaseType:  string(pending.Purpose),
		},
	})
	if err != nil {
		// The pending record stays in place: the charge may still succeed
		// out-of-band and the webhook must find something to reconcile with.
		log.Printf("level=warn component=service flow=initiate msg=\"gateway order creation failed; pending record retained\" user_id=%s transaction_id=%s err=%v", userID, pending.TransactionID, err)
		return nil, err
	}

	log.Printf("level=info component=service flow=initiate msg=\"gateway order created\" user_id=%s transaction_id=%s order_id=%s amount=%d", userID, pending.TransactionID, order.ID, order.Amount)

	return &domain.OrderHandle{
		TransactionID:  pending.TransactionID,
		GatewayOrderID: order.ID,
		Amount:         order.Amount,
		Currency:       order.Currency,
		KeyID:          s.cfg.GatewayKeyID,
		Description:    description,
	}, nil
}

// ActivateSelfServicePlan activates a zero-price plan without touching the
// gateway. Priced plans are rejected here.
func (s *Service) ActivateSelfServicePlan(ctx context.Context, userID uuid.UUID, planID string) (*domain.SelfServiceActivation, error) {
	plan, err := s.catalog.Lookup(planID)
	if err != nil {
		return nil, err
	}
	if !plan.SelfService() {
		return nil, ErrPaidPlan
	}

	if _, err := s.repo.EnsureEntitlement(ctx, userID, s.cfg.FreeTierLimit); err != nil {
		return nil, fmt.Errorf("ensure entitlement: %w", err)
	}
	ent, err := s.repo.ActivateSelfServicePlan(ctx, userID, grantForPlan(plan))
	if err != nil {
		return nil, fmt.Errorf("activate self-service plan: %w", err)
	}

	log.Printf("level=info component=service flow=self_service msg=\"free plan activated\" user_id=%s plan=%s new_limit=%d", userID, plan.ID, ent.UsageLimit)
	return &domain.SelfServiceActivation{PlanID: plan.ID, UsageLimit: ent.UsageLimit}, nil
}

// GetStatus returns the user's entitlement status, creating the free-tier
// record on first touch.
func (s *Service) GetStatus(ctx context.Context, userID uuid.UUID) (*domain.EntitlementStatus, error) {
	ent, err := s.repo.EnsureEntitlement(ctx, userID, s.cfg.FreeTierLimit)
	if err != nil {
		return nil, err
	}
	return &domain.EntitlementStatus{
		PlanID:           ent.CurrentPlanID,
		PaymentStatus:    ent.PaymentStatus,
		UsageUsed:        ent.UsageUsed,
		UsageLimit:       ent.UsageLimit,
		PaymentConfirmed: ent.PaymentStatus == domain.PaymentStatusCompleted,
		AwaitingPayment:  ent.PaymentStatus == domain.PaymentStatusPending,
	}, nil
}

// ConsumeUsage spends one generation on behalf of the caller.
func (s *Service) ConsumeUsage(ctx context.Context, userID uuid.UUID) (*domain.EntitlementStatus, error) {
	ent, err := s.repo.ConsumeUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.EntitlementStatus{
		PlanID:           ent.CurrentPlanID,
		PaymentStatus:    ent.PaymentStatus,
		UsageUsed:        ent.UsageUsed,
		UsageLimit:       ent.UsageLimit,
		PaymentConfirmed: ent.PaymentStatus == domain.PaymentStatusCompleted,
		AwaitingPayment:  ent.PaymentStatus == domain.PaymentStatusPending,
	}, nil
}

// BuildCheckoutNotification resolves a synchronous checkout callback into a
// gateway-agnostic notification plus the user the order's metadata names, so
// the verify endpoint can require the caller's session to match. The order is
// fetched from the gateway: the transaction linkage comes from the order's
// own metadata, not from anything the client claims.
func (s *Service) BuildCheckoutNotification(ctx context.Context, orderID, paymentID, providedSignature string) (*domain.TransactionNotification, uuid.UUID, error) {
	order, err := s.gateway.FetchOrder(ctx, orderID)
	if err != nil {
		return nil, uuid.Nil, err
	}

	transactionID, err := uuid.Parse(order.Notes.TransactionID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("order %s carries no usable transaction id: %w", orderID, err)
	}
	ownerID, err := uuid.Parse(order.Notes.UserID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("order %s carries no usable user id: %w", orderID, err)
	}

	return &domain.TransactionNotification{
		Gateway:          domain.GatewayRazorpay,
		Flow:             domain.FlowCheckout,
		TransactionID:    transactionID,
		GatewayPaymentID: paymentID,
		ClaimedAmount:    order.Amount,
		ClaimedPlanID:    order.Notes.PlanID,
		ClaimedPurpose:   domain.PurchasePurpose(order.Notes.PurchaseType),
		SignedPayload:    signature.RazorpayCheckoutPayload(orderID, paymentID),
		Signature:        providedSignature,
	}, ownerID, nil
}

// grantForPlan snapshots a plan's granted units into grant parameters. The
// snapshot happens at activation time: later catalog edits never reach
// already-completed records.
func grantForPlan(plan plans.Definition) store.GrantParams {
	grant := store.GrantParams{
		PlanID:  plan.ID,
		Purpose: domain.PurposePlan,
	}
	if plan.GrantedUsageUnits == domain.UnlimitedUsage {
		grant.ReplaceWithUnlimited = true
	} else {
		grant.UsageDelta = plan.GrantedUsageUnits
	}
	return grant
}

func buildOrderReceipt(purpose domain.PurchasePurpose, userID uuid.UUID) string {
	prefix := "plan"
	if purpose == domain.PurposeAdditionalLimit {
		prefix = "limit"
	}
	id := userID.String()
	return fmt.Sprintf("%s_%s_%d", prefix, id[len(id)-6:], time.Now().UnixMilli())
}
