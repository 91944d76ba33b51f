// Package mail establishes app-only sessions against the Exchange Online
// management surface for a freshly provisioned application.
package mail

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openportal-labs/entraprov/pkg/graph"
)

// DefaultBaseURL is the Exchange Online admin endpoint.
const DefaultBaseURL = "https://outlook.office365.com"

// Client connects to the mail platform as an application.
type Client interface {
	// ConnectAppOnly establishes an app-only session for the given client
	// application against the organization identified by its verified domain.
	ConnectAppOnly(ctx context.Context, appID, organization string) error
}

// HTTPClient implements Client against the Exchange Online admin REST API.
type HTTPClient struct {
	baseURL    string
	tokens     graph.TokenSource
	httpClient *http.Client
}

// NewHTTPClient creates a mail-platform client. baseURL may be empty to use
// the public endpoint.
func NewHTTPClient(baseURL string, tokens graph.TokenSource) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// ConnectAppOnly verifies that the application can operate against the
// organization's admin API. A readable organization record means the session
// works; anything else is a connection failure.
func (c *HTTPClient) ConnectAppOnly(ctx context.Context, appID, organization string) error {
	path := fmt.Sprintf("/adminapi/v1.0/%s/Organization", url.PathEscape(organization))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-AnchorMailbox", fmt.Sprintf("UPN:SystemMailbox{bb558c35-97f1-4cb9-8ff7-d53741dc928c}@%s", organization))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mail platform unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("app-only session for %s against %s rejected: HTTP %d", appID, organization, resp.StatusCode)
	}
	return nil
}
