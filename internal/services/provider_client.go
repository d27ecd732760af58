package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ruralpay/marketpay/internal/config"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const maxProviderBody = 1 << 20

// ProviderClient talks to the payment provider API. Tokens are cached and
// refreshed once on a 401; timeouts and 5xx responses are retried with
// exponential backoff up to maxAttempts.
type ProviderClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	tokens       TokenCache
	tokenTTL     time.Duration
	maxAttempts  int
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	metrics      *Metrics
	refresh      singleflight.Group
}

func NewProviderClient(cfg config.ProviderConfig, tokens TokenCache, metrics *Metrics) *ProviderClient {
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	return &ProviderClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		tokens:       tokens,
		tokenTTL:     cfg.TokenTTL,
		maxAttempts:  cfg.MaxAttempts,
		baseBackoff:  cfg.BaseBackoff,
		maxBackoff:   cfg.MaxBackoff,
		metrics:      metrics,
	}
}

// GetToken returns a bearer token, fetching a new one when the cache is empty
// or forceRefresh is set. Concurrent refreshes share one provider call.
func (c *ProviderClient) GetToken(ctx context.Context, forceRefresh bool) (string, error) {
	if !forceRefresh {
		if token, ok := c.tokens.Get(ctx); ok {
			return token, nil
		}
	}

	v, err, _ := c.refresh.Do("token", func() (any, error) {
		if !forceRefresh {
			if token, ok := c.tokens.Get(ctx); ok {
				return token, nil
			}
		}
		token, err := c.fetchToken(ctx)
		c.metrics.ObserveTokenRefresh(err)
		if err != nil {
			return "", &AuthError{Err: err}
		}
		if err := c.tokens.Set(ctx, token, c.tokenTTL); err != nil {
			log.Printf("[PROVIDER] failed to cache token: %v", err)
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *ProviderClient) fetchToken(ctx context.Context) (string, error) {
	status, body, err := c.send(ctx, "auth_token", http.MethodGet, "/auth/token", nil, func(req *http.Request) {
		req.Header.Set("clientId", c.clientID)
		req.Header.Set("clientSecret", c.clientSecret)
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &ProviderError{StatusCode: status, Body: string(body)}
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if resp.Token == "" {
		return "", errors.New("token response missing 'token'")
	}
	return resp.Token, nil
}

// Request performs an authenticated JSON call and decodes the response into out.
func (c *ProviderClient) Request(ctx context.Context, method, path string, body, out any) error {
	endpoint := strings.Trim(strings.ReplaceAll(path, "/", "_"), "_")

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode provider request: %w", err)
		}
	}

	err := c.request(ctx, endpoint, method, path, payload, out)
	c.metrics.ObserveProviderRequest(endpoint, err)
	if err != nil {
		log.Printf("[PROVIDER] %s %s failed: %v", method, path, err)
	}
	return err
}

func (c *ProviderClient) request(ctx context.Context, endpoint, method, path string, payload []byte, out any) error {
	token, err := c.GetToken(ctx, false)
	if err != nil {
		return err
	}

	status, body, err := c.send(ctx, endpoint, method, path, payload, bearer(token))
	if err == nil && status == http.StatusUnauthorized {
		log.Printf("[PROVIDER] %s rejected token, refreshing", path)
		if err := c.tokens.Invalidate(ctx); err != nil {
			log.Printf("[PROVIDER] failed to invalidate token: %v", err)
		}
		if token, err = c.GetToken(ctx, true); err != nil {
			return err
		}
		status, body, err = c.send(ctx, endpoint, method, path, payload, bearer(token))
	}
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		return &AuthError{Err: &ProviderError{StatusCode: status, Body: string(body)}}
	}
	if status >= http.StatusBadRequest {
		return &ProviderError{StatusCode: status, Body: string(body)}
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return &ProviderError{StatusCode: status, Body: string(body), Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func bearer(token string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// send runs one logical call. Transport errors and 5xx responses are retried;
// any other response is returned to the caller as-is.
func (c *ProviderClient) send(ctx context.Context, endpoint, method, path string, payload []byte, decorate func(*http.Request)) (int, []byte, error) {
	var (
		lastErr    error
		lastStatus int
		lastBody   []byte
	)

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			c.metrics.ObserveProviderRetry()
			if err := c.wait(ctx, attempt-1); err != nil {
				return 0, nil, &ProviderError{StatusCode: lastStatus, Body: string(lastBody), Err: err}
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return 0, nil, &ProviderError{Err: err}
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		decorate(req)

		started := time.Now()
		resp, err := c.httpClient.Do(req)
		c.metrics.ObserveProviderAttempt(endpoint, started)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, &ProviderError{Err: ctx.Err()}
			}
			log.Printf("[PROVIDER] %s attempt %d/%d: %v", path, attempt, c.maxAttempts, err)
			lastErr, lastStatus, lastBody = err, 0, nil
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
		resp.Body.Close()
		if err != nil {
			lastErr, lastStatus, lastBody = err, resp.StatusCode, nil
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			log.Printf("[PROVIDER] %s attempt %d/%d: status %d", path, attempt, c.maxAttempts, resp.StatusCode)
			lastErr, lastStatus, lastBody = nil, resp.StatusCode, body
			continue
		}
		return resp.StatusCode, body, nil
	}

	return 0, nil, &ProviderError{StatusCode: lastStatus, Body: string(lastBody), Err: lastErr}
}

func (c *ProviderClient) wait(ctx context.Context, retry int) error {
	delay := c.baseBackoff << (retry - 1)
	if delay > c.maxBackoff || delay <= 0 {
		delay = c.maxBackoff
	}
	if c.baseBackoff <= 0 {
		delay = 0
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProviderTransaction is the transaction object the provider echoes back.
type ProviderTransaction struct {
	TransactionID      string          `json:"transactionId"`
	TransactionRef     string          `json:"transactionRef"`
	Status             string          `json:"status"`
	Amount             decimal.Decimal `json:"amount"`
	Fees               decimal.Decimal `json:"fees"`
	Currency           string          `json:"currency"`
	DestinationCountry string          `json:"destinationCountry,omitempty"`
}

type ProviderFees struct {
	Amount  decimal.Decimal `json:"amount"`
	Charges decimal.Decimal `json:"charges"`
}

type ProviderQuotation struct {
	Token               string          `json:"token"`
	ExchangeRate        decimal.Decimal `json:"exchangeRate"`
	TotalFees           decimal.Decimal `json:"totalFees"`
	DestinationAmount   decimal.Decimal `json:"destinationAmount"`
	DestinationCurrency string          `json:"destinationCurrency"`
}

// Outbound amounts are sent as JSON numbers.

type FeeQuery struct {
	Method   string      `json:"method"`
	Currency string      `json:"currency"`
	Amount   json.Number `json:"amount"`
}

type MomoCollection struct {
	Phone          string      `json:"phone"`
	Amount         json.Number `json:"amount"`
	Country        string      `json:"country"`
	Currency       string      `json:"currency"`
	TransactionRef string      `json:"transactionRef"`
	OTP            string      `json:"otp"`
	Customer       string      `json:"customer"`
}

type PayoutInstruction struct {
	Token          string `json:"token"`
	Country        string `json:"country"`
	PhoneNumber    string `json:"phoneNumber"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	TransactionRef string `json:"transactionRef"`
}

type QuotationQuery struct {
	SourceWallet        string      `json:"sourceWallet"`
	Amount              json.Number `json:"amount"`
	Type                string      `json:"type"`
	DestinationCountry  string      `json:"destinationCountry"`
	DestinationCurrency string      `json:"destinationCurrency"`
	AmountType          string      `json:"amountType"`
}

func (c *ProviderClient) CollectionFees(ctx context.Context, req FeeQuery) (*ProviderFees, error) {
	var resp struct {
		Data ProviderFees `json:"data"`
	}
	if err := c.Request(ctx, http.MethodPost, "/collections/fees", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// RequestOTP asks the provider to send a mobile money OTP. The provider's
// data object is passed through untouched.
func (c *ProviderClient) RequestOTP(ctx context.Context, phone string) (json.RawMessage, error) {
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.Request(ctx, http.MethodPost, "/collections/otp", map[string]string{"phone": phone}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *ProviderClient) InitiateMomo(ctx context.Context, req MomoCollection) (*ProviderTransaction, error) {
	var resp struct {
		Data struct {
			Transaction ProviderTransaction `json:"transaction"`
		} `json:"data"`
	}
	if err := c.Request(ctx, http.MethodPost, "/collections/momo", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data.Transaction, nil
}

func (c *ProviderClient) Payout(ctx context.Context, req PayoutInstruction) (*ProviderTransaction, error) {
	var resp struct {
		Data struct {
			Transaction ProviderTransaction `json:"transaction"`
		} `json:"data"`
	}
	if err := c.Request(ctx, http.MethodPost, "/payouts", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data.Transaction, nil
}

func (c *ProviderClient) PayoutQuotation(ctx context.Context, req QuotationQuery) (*ProviderQuotation, error) {
	var resp struct {
		Data struct {
			Quotation ProviderQuotation `json:"quotation"`
		} `json:"data"`
	}
	if err := c.Request(ctx, http.MethodPost, "/payouts/quotation", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data.Quotation, nil
}
