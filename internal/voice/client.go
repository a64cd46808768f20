package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dialdesk/internal/config"
)

// Client talks to the voice provider's REST API. Requests are form-encoded
// with basic auth, the way telephony REST APIs tend to work.
type Client struct {
	accountID  string
	token      string
	baseURL    string
	fromNumber string
	httpClient *http.Client
}

func NewClient(cfg config.VoiceConfig) *Client {
	return &Client{
		accountID:  cfg.AccountID,
		token:      cfg.APIToken,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		fromNumber: cfg.FromNumber,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Name() string { return "voice" }

func (c *Client) PlaceCall(ctx context.Context, to string) (PlacedCall, error) {
	if c.accountID == "" || c.token == "" {
		return PlacedCall{}, fmt.Errorf("voice: credentials not configured")
	}
	if to == "" {
		return PlacedCall{}, fmt.Errorf("voice: destination number required")
	}

	reqURL := fmt.Sprintf("%s/accounts/%s/calls", c.baseURL, c.accountID)

	form := url.Values{}
	form.Set("From", c.fromNumber)
	form.Set("To", to)

	body, err := c.postForm(ctx, reqURL, form)
	if err != nil {
		return PlacedCall{}, err
	}

	var out placeCallResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return PlacedCall{}, fmt.Errorf("voice: decode place-call response: %w", err)
	}
	if out.ID == "" {
		return PlacedCall{}, fmt.Errorf("voice: place-call response missing call id")
	}
	return PlacedCall{
		CallID:        out.ID,
		Status:        out.Status,
		ControlHandle: out.ControlURL,
	}, nil
}

func (c *Client) Control(ctx context.Context, handle string, action ControlAction) error {
	if handle == "" {
		return fmt.Errorf("voice: control handle required")
	}

	form := url.Values{}
	form.Set("Action", string(action))

	_, err := c.postForm(ctx, handle, form)
	return err
}

type placeCallResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ControlURL string `json:"control_url"`
}

func (c *Client) postForm(ctx context.Context, reqURL string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("voice: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountID, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("voice: provider error (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
