package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"warung/internal/models"
)

// Backend is the authoritative collaborator that persists order state. The
// wire shape is a plain JSON API; everything about ordering correctness
// lives in the reconciliation layer, not here.
type Backend interface {
	// FetchOrders returns the full snapshot for the actor.
	FetchOrders(ctx context.Context, role models.Role, actorID string) ([]models.OrderRecord, error)
	// SubmitAction requests a transition and returns the authoritative
	// post-transition record.
	SubmitAction(ctx context.Context, orderID string, role models.Role, action string, params any) (*models.OrderRecord, error)
	// AcknowledgeTerminal confirms a rejection or cancellation. Idempotent.
	AcknowledgeTerminal(ctx context.Context, orderID string, role models.Role, kind models.TerminalKind) error
	// SubmitRating records a four-criteria rating. Idempotent.
	SubmitRating(ctx context.Context, orderID string, role models.Role, rating models.Rating) error
}

// HTTPBackend talks to the marketplace API over JSON/HTTP.
type HTTPBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPBackend creates a backend client with a hard request timeout so a
// hung fetch can never stall the reconciliation loop.
func NewHTTPBackend(baseURL, token string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBackend{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchOrders fetches the actor's snapshot. A failed or partially read
// response is rejected wholesale; the caller never sees a half snapshot.
func (b *HTTPBackend) FetchOrders(ctx context.Context, role models.Role, actorID string) ([]models.OrderRecord, error) {
	endpoint := fmt.Sprintf("%s/orders?role=%s&actor_id=%s", b.baseURL, url.QueryEscape(string(role)), url.QueryEscape(actorID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}
	b.decorate(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot fetch returned status %d", resp.StatusCode)
	}

	var orders []models.OrderRecord
	if err := json.NewDecoder(resp.Body).Decode(&orders); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return orders, nil
}

// SubmitAction posts a transition request. Backend rejections surface as
// ErrActionSubmissionFailed so the caller rolls the optimistic state back.
func (b *HTTPBackend) SubmitAction(ctx context.Context, orderID string, role models.Role, action string, params any) (*models.OrderRecord, error) {
	body, err := json.Marshal(map[string]any{
		"role":   role,
		"action": action,
		"params": params,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: could not encode action: %v", models.ErrActionSubmissionFailed, err)
	}

	endpoint := fmt.Sprintf("%s/orders/%s/actions", b.baseURL, url.PathEscape(orderID))
	record, err := b.postForRecord(ctx, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on order %s: %v", models.ErrActionSubmissionFailed, action, orderID, err)
	}
	return record, nil
}

// AcknowledgeTerminal confirms a rejection or cancellation.
func (b *HTTPBackend) AcknowledgeTerminal(ctx context.Context, orderID string, role models.Role, kind models.TerminalKind) error {
	body, err := json.Marshal(map[string]any{
		"role": role,
		"kind": kind,
	})
	if err != nil {
		return fmt.Errorf("%w: could not encode acknowledgement: %v", models.ErrAcknowledgementFailed, err)
	}

	endpoint := fmt.Sprintf("%s/orders/%s/acknowledgements", b.baseURL, url.PathEscape(orderID))
	if _, err := b.postForRecord(ctx, endpoint, body); err != nil {
		return fmt.Errorf("%w: order %s: %v", models.ErrAcknowledgementFailed, orderID, err)
	}
	return nil
}

// SubmitRating records a rating. The backend treats it as an upsert, so
// retrying after a partial failure is safe.
func (b *HTTPBackend) SubmitRating(ctx context.Context, orderID string, role models.Role, rating models.Rating) error {
	body, err := json.Marshal(map[string]any{
		"role":   role,
		"rating": rating,
	})
	if err != nil {
		return fmt.Errorf("failed to encode rating: %w", err)
	}

	endpoint := fmt.Sprintf("%s/orders/%s/ratings", b.baseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build rating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.decorate(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("rating submission failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("rating submission returned status %d", resp.StatusCode)
	}
	return nil
}

func (b *HTTPBackend) postForRecord(ctx context.Context, endpoint string, body []byte) (*models.OrderRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	b.decorate(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var record models.OrderRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode response record: %w", err)
	}
	return &record, nil
}

func (b *HTTPBackend) decorate(req *http.Request) {
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
}

var _ Backend = (*HTTPBackend)(nil)
