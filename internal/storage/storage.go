// Package storage releases objects held in the external object store.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// NoopReleaser discards release requests.
type NoopReleaser struct{}

// ReleaseObjects performs no action.
func (NoopReleaser) ReleaseObjects(context.Context, []string) error { return nil }

// HTTPReleaser calls POST {base}/objects/release with the object ids.
type HTTPReleaser struct {
	client *http.Client
	url    string
	token  string
}

// NewHTTPReleaser constructs an HTTPReleaser.
func NewHTTPReleaser(endpoint, token string, timeout time.Duration) *HTTPReleaser {
	return &HTTPReleaser{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/") + "/objects/release",
		token:  token,
	}
}

// ReleaseObjects asks the object store to free ids. Unknown ids are the
// store's concern; any 4xx/5xx is reported as a ReleaseError.
func (h *HTTPReleaser) ReleaseObjects(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &ReleaseError{Status: resp.StatusCode, IDs: ids}
	}
	return nil
}

// ReleaseError represents a non-successful release response.
type ReleaseError struct {
	Status int
	IDs    []string
}

func (e *ReleaseError) Error() string {
	return "object release failed with status " + http.StatusText(e.Status)
}
