package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"marquee/internal/config"
	"marquee/internal/services"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 64 << 10
)

// Error is a structured processor rejection.
type Error struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("http %d", e.StatusCode)}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return "payments: " + strings.Join(parts, ": ")
}

// Retryable reports whether the processor may accept the same request later.
func (e *Error) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusConflict,
		e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// HTTPClient speaks the processor's REST API: form-encoded requests, JSON
// responses, bearer authentication.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewHTTPClient builds a client from the payments configuration.
func NewHTTPClient(cfg config.Payments, opts ...Option) *HTTPClient {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type transferResponse struct {
	ID string `json:"id"`
}

type accountResponse struct {
	ID             string `json:"id"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
	Requirements   struct {
		DisabledReason string `json:"disabled_reason"`
	} `json:"requirements"`
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateTransfer posts a transfer and returns the processor's transfer id.
// Retried calls with the same idempotency key return the original transfer.
func (c *HTTPClient) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.IdempotencyKey == "" {
		return "", services.Wrap(services.ErrValidation, "payments", "create transfer", "idempotency key is required", nil)
	}
	if req.AmountCents <= 0 {
		return "", services.Wrap(services.ErrValidation, "payments", "create transfer", "amount must be positive", nil)
	}
	if req.Destination == "" {
		return "", services.Wrap(services.ErrValidation, "payments", "create transfer", "destination is required", nil)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("destination", req.Destination)
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	keys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set("metadata["+k+"]", req.Metadata[k])
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", strings.NewReader(form.Encode()))
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "payments", "create transfer", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	var out transferResponse
	if err := c.do(httpReq, "create transfer", &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", services.Wrap(services.ErrTransient, "payments", "create transfer", "response missing transfer id", nil)
	}
	return out.ID, nil
}

// GetAccountStatus reads whether the destination account accepts payouts.
func (c *HTTPClient) GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error) {
	if accountID == "" {
		return AccountStatus{}, services.Wrap(services.ErrValidation, "payments", "account status", "account id is required", nil)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/accounts/"+url.PathEscape(accountID), nil)
	if err != nil {
		return AccountStatus{}, services.Wrap(services.ErrConfiguration, "payments", "account status", "build request", err)
	}
	var out accountResponse
	if err := c.do(httpReq, "account status", &out); err != nil {
		return AccountStatus{}, err
	}
	return AccountStatus{
		ID:             out.ID,
		PayoutsEnabled: out.PayoutsEnabled,
		DisabledReason: out.Requirements.DisabledReason,
	}, nil
}

func (c *HTTPClient) do(req *http.Request, op string, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, "payments", op, "decode response", err)
	}
	return nil
}

func classifyTransport(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "payments", op, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "payments", op, "request timed out", err)
	}
	return services.Wrap(services.ErrTransient, "payments", op, "request failed", err)
}

func classifyStatus(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	procErr := &Error{StatusCode: resp.StatusCode}
	var envelope errorEnvelope
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		procErr.Type = envelope.Error.Type
		procErr.Code = envelope.Error.Code
		procErr.Message = envelope.Error.Message
	} else {
		procErr.Message = strings.TrimSpace(string(body))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return services.Wrap(services.ErrConfiguration, "payments", op, "processor rejected credentials", procErr)
	case procErr.Retryable():
		return services.Wrap(services.ErrTransient, "payments", op, "processor unavailable", procErr)
	default:
		return services.Wrap(services.ErrPermanent, "payments", op, "processor rejected request", procErr)
	}
}

// Reason extracts the processor's explanation from err, falling back to the
// error text.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var procErr *Error
	if errors.As(err, &procErr) && procErr.Message != "" {
		if procErr.Code != "" {
			return procErr.Code + ": " + procErr.Message
		}
		return procErr.Message
	}
	return err.Error()
}
