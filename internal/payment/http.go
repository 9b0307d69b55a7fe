package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPGateway talks to a provider exposing POST /v1/captures and POST /v1/refunds.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type captureRequest struct {
	BookingID string `json:"booking_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type refundRequest struct {
	PaymentReference string `json:"payment_reference"`
	Amount           int64  `json:"amount"`
}

type referenceResponse struct {
	Reference string `json:"reference"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Capture(ctx context.Context, bookingID string, amount int64, currency string) (string, error) {
	body := captureRequest{BookingID: bookingID, Amount: amount, Currency: currency}
	return g.post(ctx, "/v1/captures", "capture:"+bookingID, body)
}

func (g *HTTPGateway) Refund(ctx context.Context, paymentRef string, amount int64, idempotencyKey string) (string, error) {
	body := refundRequest{PaymentReference: paymentRef, Amount: amount}
	return g.post(ctx, "/v1/refunds", idempotencyKey, body)
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, body any) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var e errorResponse
		_ = json.Unmarshal(payload, &e)
		return "", fmt.Errorf("%w: status %d: %s", ErrDeclined, resp.StatusCode, e.Error)
	}

	var out referenceResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if out.Reference == "" {
		return "", errors.New("payment provider returned an empty reference")
	}
	return out.Reference, nil
}

var _ Gateway = (*HTTPGateway)(nil)
