package jamf

import (
	"context"
	"net/http"
	"net/url"
)

// Classic talks to the classic API under /JSSResource using basic auth.
type Classic struct {
	baseURL string
	client  *http.Client
}

// NewClassic creates a classic API client.
func NewClassic(baseURL, username, password string) *Classic {
	return &Classic{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: defaultTimeout,
			Transport: &basicAuthTransport{
				username: username,
				password: password,
				base:     http.DefaultTransport,
			},
		},
	}
}

// Get fetches /JSSResource/<segments...> and decodes the JSON body into out.
// Example: Get(ctx, &groups, "computergroups") or
// Get(ctx, &group, "computergroups", "id", "42").
func (c *Classic) Get(ctx context.Context, out interface{}, segments ...string) error {
	u := buildURL(c.baseURL+"/JSSResource", segments, nil)
	return getJSON(ctx, c.client, u, out)
}

// basicAuthTransport adds basic auth credentials on every request.
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the original
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(r)
}

var _ http.RoundTripper = (*basicAuthTransport)(nil)

// values is a small helper for building query parameters.
func values(pairs ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(pairs[i], pairs[i+1])
	}
	return v
}
