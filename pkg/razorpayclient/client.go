/**
 * @description
 * This package provides a client for interacting with the Razorpay Orders API.
 * It encapsulates the logic for making authenticated HTTP requests, handling
 * request body construction, and parsing responses.
 *
 * Failures are classified: transport errors and 5xx responses are retryable
 * (the order may still be creatable), while 4xx responses are terminal and
 * must not be retried with identical parameters.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */

package razorpayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the Razorpay REST API.
type Client struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	HTTPClient *http.Client
}

// NewClient creates a new Razorpay API client.
func NewClient(baseURL, keyID, keySecret string) *Client {
	if baseURL == "" {
		baseURL = "https://api.razorpay.com"
	}
	return &Client{
		BaseURL:   baseURL,
		KeyID:     keyID,
		KeySecret: keySecret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// OrderNotes is the opaque metadata attached to an order so that later
// notifications are self-describing and need no side lookup table.
type OrderNotes struct {
	UserID        string `json:"userId"`
	TransactionID string `json:"transactionId"`
	PlanID        string `json:"planId,omitempty"`
	PurchaseType  string `json:"purchaseType"`
}

// CreateOrderRequest is the payload for POST /v1/orders.
type CreateOrderRequest struct {
	Amount   int64      `json:"amount"` // in paise
	Currency string     `json:"currency"`
	Receipt  string     `json:"receipt"`
	Notes    OrderNotes `json:"notes"`
}

// Order is the Razorpay order entity returned by the Orders API.
type Order struct {
	ID       string     `json:"id"`
	Amount   int64      `json:"amount"`
	Currency string     `json:"currency"`
	Receipt  string     `json:"receipt"`
	Status   string     `json:"status"`
	Notes    OrderNotes `json:"notes"`
}

// ErrorBody is the error payload Razorpay returns on non-2xx responses.
type ErrorBody struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ErrorResponse represents an error returned by the Razorpay API.
type ErrorResponse struct {
	StatusCode int       `json:"-"`
	ErrorBody  ErrorBody `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorBody.Code != "" {
		return fmt.Sprintf("razorpay api error: %s - %s", e.ErrorBody.Code, e.ErrorBody.Description)
	}
	return fmt.Sprintf("razorpay api error: status %d", e.StatusCode)
}

// IsRetryable reports whether the failure is transient. 4xx responses are
// terminal: retrying the same request would fail again.
func (e *ErrorResponse) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 0
}

// CreateOrder opens a payment order with Razorpay.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/orders", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(c.KeyID, c.KeySecret)

	var order Order
	if err := c.do(httpReq, "create_order", &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// FetchOrder retrieves an existing order, including its notes metadata.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v1/orders/"+orderID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch-order request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(c.KeyID, c.KeySecret)

	var order Order
	if err := c.do(httpReq, "fetch_order", &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Transport failure: the gateway may have acted, classify retryable.
		return &ErrorResponse{StatusCode: 0, ErrorBody: ErrorBody{Code: "GATEWAY_UNREACHABLE", Description: err.Error()}}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			log.Printf("level=warn component=razorpay_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
		}
		log.Printf("level=warn component=razorpay_client op=%s status=%d code=%q description=%q", op, resp.StatusCode, errResp.ErrorBody.Code, errResp.ErrorBody.Description)
		return errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
