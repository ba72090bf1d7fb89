package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"face-checkout-core/config"
	"face-checkout-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Charge verdicts returned by the acquirer.
const (
	chargeStatusApproved = "APPROVED"
	chargeStatusPending  = "PENDING"
	chargeStatusDeclined = "DECLINED"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CardGateway charges stored payment methods through the external acquirer.
// It implements ports.PaymentGateway.
type CardGateway struct {
	baseURL    string
	apiKey     string
	httpClient HTTPClient
	log        zerolog.Logger
}

// NewCardGateway creates a card gateway client.
func NewCardGateway(cfg config.GatewayConfig, httpClient HTTPClient, log zerolog.Logger) *CardGateway {
	return &CardGateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		log:        log,
	}
}

// chargeRequest is the JSON body posted to the acquirer.
type chargeRequest struct {
	UserID      string `json:"user_id"`
	OrderID     string `json:"order_id"`
	MethodRef   string `json:"method_ref"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// chargeResponse is the acquirer's verdict.
type chargeResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Code      string `json:"code"`
}

// ProcessPayment posts a charge for the order and maps the acquirer verdict.
// Transport failures and 5xx responses return an error; a decline is a
// non-error result carrying the acquirer code.
func (g *CardGateway) ProcessPayment(ctx context.Context, req ports.GatewayChargeRequest) (*ports.GatewayResult, error) {
	body, err := json.Marshal(chargeRequest{
		UserID:      req.UserID.String(),
		OrderID:     req.OrderID.String(),
		MethodRef:   req.MethodRef,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	// A retried charge always carries the same order, so the order ID doubles
	// as the idempotency key on the acquirer side.
	httpReq.Header.Set("Idempotency-Key", req.OrderID.String())

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("card gateway request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read charge response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("card gateway status %d", resp.StatusCode)
	}

	var verdict chargeResponse
	if err := json.Unmarshal(respBody, &verdict); err != nil {
		return nil, fmt.Errorf("decode charge response: %w", err)
	}

	switch verdict.Status {
	case chargeStatusApproved:
		g.log.Info().
			Str("order_id", req.OrderID.String()).
			Str("reference", verdict.Reference).
			Msg("card charge approved")
		return &ports.GatewayResult{Success: true, Reference: verdict.Reference}, nil
	case chargeStatusPending:
		g.log.Info().
			Str("order_id", req.OrderID.String()).
			Str("reference", verdict.Reference).
			Msg("card charge pending acquirer review")
		return &ports.GatewayResult{Pending: true, Reference: verdict.Reference}, nil
	default:
		code := verdict.Code
		if code == "" {
			code = chargeStatusDeclined
		}
		return &ports.GatewayResult{Reference: verdict.Reference, Code: code}, nil
	}
}

// VoidPayment reverses the charge recorded under the order's idempotency
// key. The acquirer treats a void of an unknown charge as a no-op, so a
// retry after a partial failure is safe.
func (g *CardGateway) VoidPayment(ctx context.Context, orderID uuid.UUID) error {
	url := fmt.Sprintf("%s/v1/charges/%s/void", g.baseURL, orderID.String())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build void request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Idempotency-Key", orderID.String())

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("card gateway void request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("card gateway void status %d", resp.StatusCode)
	}

	g.log.Info().Str("order_id", orderID.String()).Msg("card charge voided")
	return nil
}
