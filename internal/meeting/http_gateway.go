package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

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

func (g *HTTPGateway) CreateSession(ctx context.Context, appointmentID uuid.UUID) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	payload := map[string]string{"appointment_id": appointmentID.String()}

	if err := g.post(ctx, "/v1/sessions", payload, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

func (g *HTTPGateway) IssueToken(ctx context.Context, sessionID string, participantID uuid.UUID, role string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	payload := map[string]string{
		"participant_id": participantID.String(),
		"role":           role,
	}

	path := fmt.Sprintf("/v1/sessions/%s/tokens", sessionID)
	if err := g.post(ctx, path, payload, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (g *HTTPGateway) EndSession(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/v1/sessions/%s/end", sessionID)
	return g.post(ctx, path, map[string]string{}, &struct{}{})
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal session payload: %w", err)
	}

	backoff := retry.WithMaxRetries(g.retries-1, retry.NewExponential(g.backoff))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			g.logger.Warn("session gateway request failed, retrying",
				zap.String("path", path),
				zap.Error(err))
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			g.logger.Warn("session gateway returned server error, retrying",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode))
			return retry.RetryableError(fmt.Errorf("gateway status %d", resp.StatusCode))
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("gateway status %d", resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		if len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode session response: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	return nil
}
