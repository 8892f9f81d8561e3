package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/autopilot/internal/config"
	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned when a client is requested without a token.
var ErrNoToken = errors.New("github token not set")

// NewClient creates an authenticated GitHub client. A non-empty BaseURL
// selects a GitHub Enterprise API endpoint.
func NewClient(ctx context.Context, cfg config.GitHubConfig) (*gh.Client, error) {
	if !cfg.Token.IsSet() {
		return nil, ErrNoToken
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	hc := oauth2.NewClient(ctx, ts)
	if d := cfg.Timeout.Duration(); d > 0 {
		hc.Timeout = d
	}
	return newClient(hc, cfg.BaseURL)
}

func newClient(hc *http.Client, baseURL string) (*gh.Client, error) {
	c := gh.NewClient(hc)
	if baseURL == "" {
		return c, nil
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	c, err := c.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("github base url: %w", err)
	}
	return c, nil
}
