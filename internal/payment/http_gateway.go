package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// HTTPGateway talks to the external payment processor. 5xx responses and
// transport errors are retried with exponential backoff; a decline (4xx with
// a reason) is returned as a normal result immediately.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	retries uint64
	backoff time.Duration
	logger  *zap.Logger
}

func NewHTTPGateway(baseURL string, retries int, backoff time.Duration, logger *zap.Logger) *HTTPGateway {
	if retries < 1 {
		retries = 1
	}
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: uint64(retries),
		backoff: backoff,
		logger:  logger,
	}
}

type chargePayload struct {
	AppointmentID    string `json:"appointment_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	PaymentMethodRef string `json:"payment_method_ref"`
}

type refundPayload struct {
	AppointmentID string `json:"appointment_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
}

type gatewayResponse struct {
	TransactionID string `json:"transaction_id"`
	Declined      bool   `json:"declined"`
	Reason        string `json:"reason"`
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payload := chargePayload{
		AppointmentID:    req.AppointmentID.String(),
		Amount:           req.Amount.String(),
		Currency:         req.Currency,
		PaymentMethodRef: req.PaymentMethodRef,
	}

	resp, err := g.post(ctx, "/v1/charges", payload)
	if err != nil {
		return nil, err
	}

	return &ChargeResult{
		TransactionID: resp.TransactionID,
		Declined:      resp.Declined,
		DeclineReason: resp.Reason,
	}, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	payload := refundPayload{
		AppointmentID: req.AppointmentID.String(),
		TransactionID: req.TransactionID,
		Amount:        req.Amount.String(),
		Currency:      req.Currency,
		Reason:        req.Reason,
	}

	resp, err := g.post(ctx, "/v1/refunds", payload)
	if err != nil {
		return nil, err
	}
	if resp.Declined {
		return nil, fmt.Errorf("%w: refund rejected: %s", ErrGatewayUnavailable, resp.Reason)
	}

	return &RefundResult{TransactionID: resp.TransactionID}, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload any) (*gatewayResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway payload: %w", err)
	}

	var out gatewayResponse

	backoff := retry.WithMaxRetries(g.retries-1, retry.NewExponential(g.backoff))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			g.logger.Warn("payment gateway request failed, retrying",
				zap.String("path", path),
				zap.Error(err))
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			g.logger.Warn("payment gateway returned server error, retrying",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode))
			return retry.RetryableError(fmt.Errorf("gateway status %d", resp.StatusCode))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	return &out, nil
}
