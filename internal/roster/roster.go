// Package roster fetches the member roster from the identity provider.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"example.com/bulletin/internal/domain"
)

// Static serves a fixed roster. It is used in development and tests.
type Static struct {
	Users []domain.RosterUser
}

// ListUsers returns a copy of the configured users.
func (s Static) ListUsers(context.Context) ([]domain.RosterUser, error) {
	return append([]domain.RosterUser(nil), s.Users...), nil
}

// HTTPProvider reads the roster from GET {base}/users. Responses are cached
// for ttl so a burst of purchases does not hammer the provider.
type HTTPProvider struct {
	client *http.Client
	url    string
	token  string
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	cached   []domain.RosterUser
	cachedAt time.Time
}

// NewHTTPProvider constructs an HTTPProvider.
func NewHTTPProvider(endpoint, token string, timeout, ttl time.Duration) *HTTPProvider {
	return &HTTPProvider{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/") + "/users",
		token:  token,
		ttl:    ttl,
		now:    time.Now,
	}
}

// ListUsers returns the roster, served from cache while it is fresh unless
// the caller asked for a fresh roster with domain.WithFreshRoster.
func (p *HTTPProvider) ListUsers(ctx context.Context) ([]domain.RosterUser, error) {
	p.mu.Lock()
	if !domain.FreshRosterRequested(ctx) && p.cached != nil && p.now().Sub(p.cachedAt) < p.ttl {
		users := append([]domain.RosterUser(nil), p.cached...)
		p.mu.Unlock()
		return users, nil
	}
	p.mu.Unlock()

	users, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cached, p.cachedAt = users, p.now()
	p.mu.Unlock()
	return append([]domain.RosterUser(nil), users...), nil
}

func (p *HTTPProvider) fetch(ctx context.Context) ([]domain.RosterUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &FetchError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload struct {
		Users []domain.RosterUser `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	users := make([]domain.RosterUser, 0, len(payload.Users))
	for _, u := range payload.Users {
		if u.UserID == "" {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// FetchError represents a non-successful roster response.
type FetchError struct {
	Status int
	Body   string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("roster fetch failed with status %d: %s", e.Status, e.Body)
}
