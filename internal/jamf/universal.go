package jamf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"jamfwatch/internal/logging"
)

// Universal talks to the universal API under /api using bearer tokens
// obtained from /api/v1/auth/token.
type Universal struct {
	baseURL  string
	username string
	password string
	client   *http.Client

	mu    sync.RWMutex
	token string
}

// NewUniversal creates a universal API client and logs in.
func NewUniversal(ctx context.Context, baseURL, username, password string) (*Universal, error) {
	u := &Universal{
		baseURL:  baseURL,
		username: username,
		password: password,
	}
	u.client = &http.Client{
		Timeout:   defaultTimeout,
		Transport: &bearerTransport{source: u, base: http.DefaultTransport},
	}
	if err := u.login(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

// login exchanges the basic credentials for a bearer token.
func (u *Universal) login(ctx context.Context) error {
	tok, err := u.postForToken(ctx, u.baseURL+"/api/v1/auth/token", true)
	if err != nil {
		return fmt.Errorf("universal API login: %w", err)
	}
	u.setToken(tok)
	return nil
}

// KeepAlive renews the bearer token before it expires.
func (u *Universal) KeepAlive(ctx context.Context) error {
	tok, err := u.postForToken(ctx, u.baseURL+"/api/v1/auth/keep-alive", false)
	if err != nil {
		return fmt.Errorf("renewing universal API token: %w", err)
	}
	u.setToken(tok)
	return nil
}

// Invalidate releases the bearer token server-side. Best effort on shutdown.
func (u *Universal) Invalidate(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/api/v1/auth/invalidate-token", nil)
	if err != nil {
		return
	}
	resp, err := u.client.Do(req)
	if err != nil {
		logging.Debug("Jamf", "token invalidation failed: %v", err)
		return
	}
	resp.Body.Close()
	u.setToken("")
}

func (u *Universal) postForToken(ctx context.Context, rawURL string, basic bool) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if basic {
		req.SetBasicAuth(u.username, u.password)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{URL: rawURL, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("empty token in response from %s", rawURL)
	}
	return tr.Token, nil
}

func (u *Universal) setToken(tok string) {
	u.mu.Lock()
	u.token = tok
	u.mu.Unlock()
}

func (u *Universal) currentToken() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.token
}

// Get fetches /api/<version>/<segments...> and decodes the JSON body into out.
func (u *Universal) Get(ctx context.Context, out interface{}, version string, segments ...string) error {
	rawURL := buildURL(u.baseURL+"/api", append([]string{version}, segments...), nil)
	return getJSON(ctx, u.client, rawURL, out)
}

// Page is one page of a paginated universal API listing. Results are
// kept raw so each adapter can decode its own object shape.
type Page struct {
	TotalCount int               `json:"totalCount"`
	Results    []json.RawMessage `json:"results"`
}

// GetPage fetches one page of /api/<version>/<endpoint>.
func (u *Universal) GetPage(ctx context.Context, version, endpoint string, page, size int, sort string) (*Page, error) {
	params := values(
		"page", strconv.Itoa(page),
		"page-size", strconv.Itoa(size),
	)
	if sort != "" {
		params.Set("sort", sort)
	}
	rawURL := buildURL(u.baseURL+"/api", []string{version, endpoint}, params)

	var p Page
	if err := getJSON(ctx, u.client, rawURL, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetAllPages follows totalCount until the whole listing is fetched.
// A failure on any page fails the whole listing so callers never see a
// truncated result set.
func (u *Universal) GetAllPages(ctx context.Context, version, endpoint string, size int, sort string) ([]json.RawMessage, error) {
	var all []json.RawMessage
	for page := 0; ; page++ {
		p, err := u.GetPage(ctx, version, endpoint, page, size, sort)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Results...)
		if (page+1)*size >= p.TotalCount || len(p.Results) == 0 {
			break
		}
	}
	return all, nil
}

// bearerTransport injects the current bearer token on every request.
type bearerTransport struct {
	source *Universal
	base   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the original
	r := req.Clone(req.Context())
	if tok := t.source.currentToken(); tok != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	return t.base.RoundTrip(r)
}

var _ http.RoundTripper = (*bearerTransport)(nil)
