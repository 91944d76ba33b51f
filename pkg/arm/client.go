// Package arm talks to the Azure Resource Manager control plane for the
// optional resource-management extension: access elevation and role
// assignments for the provisioned service principal.
package arm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openportal-labs/entraprov/pkg/graph"
)

// DefaultBaseURL is the public ARM endpoint.
const DefaultBaseURL = "https://management.azure.com"

// Scopes used by the resource-management extension.
const (
	// RootScope is the tenant root management scope.
	RootScope = "/"

	// IdentityProviderScope is the directory's resource-management surface.
	IdentityProviderScope = "/providers/Microsoft.aadiam"
)

// readerRoleDefinitionID is the well-known built-in Reader role definition.
const readerRoleDefinitionID = "acdd72a7-3385-48ef-bd42-f606fba81ae7"

// roleDefinitionIDs maps role display names to built-in role definition IDs.
// Only the roles this tool assigns are listed.
var roleDefinitionIDs = map[string]string{
	"Reader": readerRoleDefinitionID,
}

// Client is the resource-management surface the provisioner depends on.
type Client interface {
	// ElevateAccess grants the acting principal User Access Administrator at
	// the root scope so role assignments at "/" become possible.
	ElevateAccess(ctx context.Context) error

	// CreateRoleAssignment assigns a built-in role, by display name, to a
	// principal at the given scope.
	CreateRoleAssignment(ctx context.Context, principalID, scope, roleName string) error
}

// HTTPClient implements Client against the ARM REST API.
type HTTPClient struct {
	baseURL    string
	tokens     graph.TokenSource
	httpClient *http.Client
}

// NewHTTPClient creates an ARM client. baseURL may be empty to use the public
// endpoint.
func NewHTTPClient(baseURL string, tokens graph.TokenSource) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var armErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &armErr) == nil && armErr.Error.Code != "" {
			return fmt.Errorf("ARM error %s (HTTP %d): %s", armErr.Error.Code, resp.StatusCode, armErr.Error.Message)
		}
		return fmt.Errorf("ARM returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// ElevateAccess calls the root-scope elevation endpoint.
func (c *HTTPClient) ElevateAccess(ctx context.Context) error {
	path := "/providers/Microsoft.Authorization/elevateAccess?api-version=2016-07-01"
	if err := c.do(ctx, http.MethodPost, path, nil); err != nil {
		return fmt.Errorf("failed to elevate access to root scope: %w", err)
	}
	return nil
}

// roleAssignmentRequest is the body for PUT roleAssignments.
type roleAssignmentRequest struct {
	Properties roleAssignmentProperties `json:"properties"`
}

type roleAssignmentProperties struct {
	RoleDefinitionID string `json:"roleDefinitionId"`
	PrincipalID      string `json:"principalId"`
	PrincipalType    string `json:"principalType"`
}

// CreateRoleAssignment assigns roleName to the principal at scope. A fresh
// assignment name (GUID) is generated per call; ARM treats the name as the
// assignment's identity within the scope.
func (c *HTTPClient) CreateRoleAssignment(ctx context.Context, principalID, scope, roleName string) error {
	defID, ok := roleDefinitionIDs[roleName]
	if !ok {
		return fmt.Errorf("unknown role %q", roleName)
	}

	scopePrefix := strings.TrimSuffix(scope, "/")
	path := fmt.Sprintf("%s/providers/Microsoft.Authorization/roleAssignments/%s?api-version=2022-04-01",
		scopePrefix, uuid.NewString())

	body := roleAssignmentRequest{
		Properties: roleAssignmentProperties{
			RoleDefinitionID: fmt.Sprintf("%s/providers/Microsoft.Authorization/roleDefinitions/%s", scopePrefix, defID),
			PrincipalID:      principalID,
			PrincipalType:    "ServicePrincipal",
		},
	}

	if err := c.do(ctx, http.MethodPut, path, body); err != nil {
		return fmt.Errorf("failed to assign %s at scope %q: %w", roleName, scope, err)
	}
	return nil
}
