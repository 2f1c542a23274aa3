// Package gateway wraps the external payment processor's HTTP API:
// PIX and card-present payment creation, status polling, cancellation,
// and terminal (Point device) management.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrUnavailable marks transient failures (network error, 5xx):
	// safe to retry with backoff.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrNotFound means the gateway does not know the payment/device id.
	ErrNotFound = errors.New("payment gateway: not found")
)

const (
	statusRetries = 3
	retryBackoff  = 300 * time.Millisecond
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Log     zerolog.Logger
}

func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Log:     log.With().Str("component", "gateway").Logger(),
	}
}

func (c *Client) CreatePixPayment(ctx context.Context, req PixRequest) (*PixPayment, error) {
	var out PixPayment
	if _, err := c.do(ctx, http.MethodPost, "/v1/payments/pix", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateCardPayment(ctx context.Context, req CardRequest) (*CardPayment, error) {
	var out CardPayment
	if _, err := c.do(ctx, http.MethodPost, "/v1/payments/card", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckStatus polls the payment state. Transient failures are retried a
// bounded number of times before surfacing ErrUnavailable.
func (c *Client) CheckStatus(ctx context.Context, paymentID string) (*StatusResult, error) {
	var lastErr error
	for attempt := 0; attempt < statusRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
		var out StatusResult
		raw, err := c.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &out)
		if err == nil {
			out.Raw = raw
			return &out, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		lastErr = err
		c.Log.Warn().Err(err).Str("payment_id", paymentID).Int("attempt", attempt+1).Msg("status poll failed")
	}
	return nil, lastErr
}

func (c *Client) CancelPayment(ctx context.Context, paymentID string) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/payments/"+paymentID+"/cancel", nil, nil)
	return err
}

func (c *Client) ConfigureTerminal(ctx context.Context, deviceID string) error {
	body := map[string]string{"operating_mode": "PDV"}
	_, err := c.do(ctx, http.MethodPost, "/v1/terminals/"+deviceID+"/configure", body, nil)
	return err
}

func (c *Client) GetTerminalStatus(ctx context.Context, deviceID string) (*TerminalStatus, error) {
	var out TerminalStatus
	if _, err := c.do(ctx, http.MethodGet, "/v1/terminals/"+deviceID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListIntents(ctx context.Context, deviceID string) ([]Intent, error) {
	var out struct {
		Events []Intent `json:"events"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/v1/terminals/"+deviceID+"/intents", nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) DeleteIntent(ctx context.Context, deviceID, intentID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/terminals/"+deviceID+"/intents/"+intentID, nil, nil)
	return err
}

// ClearIntentQueue wipes every pending intent so the terminal display
// returns to idle.
func (c *Client) ClearIntentQueue(ctx context.Context, deviceID string) (int, error) {
	var out struct {
		Cleared int `json:"cleared"`
	}
	if _, err := c.do(ctx, http.MethodDelete, "/v1/terminals/"+deviceID+"/intents", nil, &out); err != nil {
		return 0, err
	}
	return out.Cleared, nil
}

// do issues one request and decodes the response into out (when non-nil).
// It returns the raw body so callers can keep it for audit.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (json.RawMessage, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("gateway rejected %s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return raw, nil
}
