// Package crm mirrors call and subscription activity into an external CRM.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a thin REST client for the CRM's contact API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Contact is the CRM-side representation of a person we talked to.
type Contact struct {
	Phone string   `json:"phone,omitempty"`
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// UpsertContact creates or updates a contact, matched by phone or email.
func (c *Client) UpsertContact(ctx context.Context, contact Contact) error {
	return c.post(ctx, "/api/contacts/upsert", contact)
}

// AddNote attaches a free-text note to the contact's timeline.
func (c *Client) AddNote(ctx context.Context, contact Contact, note string) error {
	return c.post(ctx, "/api/contacts/notes", struct {
		Contact
		Note string `json:"note"`
	}{Contact: contact, Note: note})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("crm: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("crm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("crm: %s returned %d: %s", path, resp.StatusCode, msg)
	}
	return nil
}
