package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"gopkg.in/yaml.v3"
)

// ErrNoCredentials is returned when the credentials file has no section for a remote
var ErrNoCredentials = errors.New("no credentials for remote")

// Credentials authenticate one remote with the client credentials grant
type Credentials struct {
	Server string   `yaml:"server"`
	Client string   `yaml:"client"`
	Secret string   `yaml:"secret"`
	Scopes []string `yaml:"scopes"`
}

// LoadCredentials reads a yaml map of remote name to credentials
func LoadCredentials(path string) (map[string]Credentials, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided credentials path
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	creds := make(map[string]Credentials)
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	return creds, nil
}

// Lookup returns the credentials section of a remote
func Lookup(creds map[string]Credentials, name string) (Credentials, error) {
	c, ok := creds[name]
	if !ok {
		return Credentials{}, fmt.Errorf("%w %q", ErrNoCredentials, name)
	}

	return c, nil
}

// tokenURL returns the token endpoint of the auth server
func (c Credentials) tokenURL(fallback string) string {
	server := c.Server
	if server == "" {
		server = fallback
	}

	return strings.TrimRight(server, "/") + "/auth/token"
}

// Transport wraps base so every request carries a bearer token
func (c Credentials) Transport(ctx context.Context, fallbackServer string, base http.RoundTripper) http.RoundTripper {
	cfg := clientcredentials.Config{
		ClientID:     c.Client,
		ClientSecret: c.Secret,
		TokenURL:     c.tokenURL(fallbackServer),
		Scopes:       c.Scopes,
	}

	// The token request itself goes through base
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: base})

	return &oauth2.Transport{Source: cfg.TokenSource(ctx), Base: base}
}
