// Package jamf provides authenticated clients for the two Jamf Pro API
// surfaces: the classic API under /JSSResource and the universal API
// under /api.
package jamf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 240 * time.Second

// Clients bundles the two authenticated API handles handed to source
// adapters. Adapters treat it as read-only.
type Clients struct {
	Classic   *Classic
	Universal *Universal
}

// NewClients builds both API clients and performs the universal API
// token login.
func NewClients(ctx context.Context, baseURL, username, password string) (*Clients, error) {
	classic := NewClassic(baseURL, username, password)
	universal, err := NewUniversal(ctx, baseURL, username, password)
	if err != nil {
		return nil, err
	}
	return &Clients{Classic: classic, Universal: universal}, nil
}

// APIError describes a non-2xx response from either API.
type APIError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fetching %s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// getJSON performs a GET and decodes the JSON response into out.
func getJSON(ctx context.Context, client *http.Client, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{URL: rawURL, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", rawURL, err)
	}
	return nil
}

// buildURL joins the base URL, path segments and query parameters.
func buildURL(base string, segments []string, params url.Values) string {
	u := base
	for _, s := range segments {
		u += "/" + url.PathEscape(s)
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}
