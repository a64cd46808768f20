package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the billing provider's REST API with API-key basic auth.
type Client struct {
	baseURL    string
	secretKey  string
	successURL string
	cancelURL  string
	httpClient *http.Client
}

type ClientConfig struct {
	BaseURL    string
	SecretKey  string
	SuccessURL string
	CancelURL  string
}

func NewClient(cfg ClientConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateCheckoutSession asks the provider for a hosted payment page for the
// given customer and plan.
func (c *Client) CreateCheckoutSession(ctx context.Context, email, plan string) (CheckoutSession, error) {
	form := url.Values{}
	form.Set("customer_email", email)
	form.Set("plan", plan)
	form.Set("success_url", c.successURL)
	form.Set("cancel_url", c.cancelURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("billing: build request: %w", err)
	}
	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("billing: create checkout session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return CheckoutSession{}, fmt.Errorf("billing: provider returned %d: %s", resp.StatusCode, body)
	}

	var sess CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return CheckoutSession{}, fmt.Errorf("billing: decode checkout session: %w", err)
	}
	return sess, nil
}
