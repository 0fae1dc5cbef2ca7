package shiftsync

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

type TokenGuardOptions struct {
	IntrospectURL string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	HTTPClient    *http.Client
}

// TokenGuard validates an access token and drives at most one
// refresh-and-retry cycle per sync. A second consecutive failure is always
// terminal for the current request.
type TokenGuard struct {
	introspectURL string
	tokenURL      string
	clientID      string
	clientSecret  string
	httpClient    *http.Client
}

func NewTokenGuard(opts TokenGuardOptions) *TokenGuard {
	introspectURL := strings.TrimSpace(opts.IntrospectURL)
	if introspectURL == "" {
		introspectURL = "https://www.googleapis.com/oauth2/v1/tokeninfo"
	}
	tokenURL := strings.TrimSpace(opts.TokenURL)
	if tokenURL == "" {
		tokenURL = "https://oauth2.googleapis.com/token"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenGuard{
		introspectURL: introspectURL,
		tokenURL:      tokenURL,
		clientID:      strings.TrimSpace(opts.ClientID),
		clientSecret:  strings.TrimSpace(opts.ClientSecret),
		httpClient:    httpClient,
	}
}

// EnsureValid returns a token known valid at introspection time. When the
// presented token is invalid it performs exactly one refresh using the stored
// refresh credential; the second return reports whether the caller must
// persist a rotated token.
func (g *TokenGuard) EnsureValid(ctx context.Context, accessToken, refreshToken string) (string, bool, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return "", false, ErrUnauthenticated
	}
	if g.introspect(ctx, accessToken) {
		return accessToken, false, nil
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return "", false, ErrUnauthenticated
	}
	refreshed, err := g.refresh(ctx, refreshToken)
	if err != nil {
		return "", false, ErrUnauthenticated
	}
	return refreshed, true, nil
}

// introspect treats transport errors as invalid: the refresh path is the
// single retry the guard is allowed.
func (g *TokenGuard) introspect(ctx context.Context, accessToken string) bool {
	requestURL := g.introspectURL + "?access_token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return false
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func (g *TokenGuard) refresh(ctx context.Context, refreshToken string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	cfg := oauth2.Config{
		ClientID:     g.clientID,
		ClientSecret: g.clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: g.tokenURL},
	}
	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", ErrUnauthenticated
	}
	return token.AccessToken, nil
}
