package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the v1.0 Microsoft Graph endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// maxResponseBodySize limits response body reads to prevent OOM from large responses
const maxResponseBodySize = 1 << 20 // 1MB

// ErrNotFound is returned when a lookup targets an object the directory does
// not have (HTTP 404).
var ErrNotFound = errors.New("directory object not found")

// Client is the directory operations surface the provisioner depends on.
// The production implementation talks to Microsoft Graph; tests substitute
// fakes.
type Client interface {
	// Me returns the acting principal behind the session.
	Me(ctx context.Context) (*DirectoryObject, error)

	ListOrganizations(ctx context.Context) ([]Organization, error)
	ListDirectoryRoles(ctx context.Context) ([]DirectoryRole, error)
	ListDirectoryRoleMembers(ctx context.Context, roleID string) ([]DirectoryObject, error)

	CreateApplication(ctx context.Context, displayName string) (*Application, error)
	// GetApplication looks an application up by object id. Returns ErrNotFound
	// if the directory has no such object yet.
	GetApplication(ctx context.Context, objectID string) (*Application, error)
	CreateServicePrincipal(ctx context.Context, appID string) (*ServicePrincipal, error)
	// GetServicePrincipalByAppID resolves the tenant-local service principal
	// for a resource application id. Returns ErrNotFound when the tenant has
	// no principal for that appId.
	GetServicePrincipalByAppID(ctx context.Context, appID string) (*ServicePrincipal, error)
	UpdateRequiredAccess(ctx context.Context, appObjectID string, blocks []RequiredResourceAccess) error
	CreateAppRoleAssignment(ctx context.Context, resourceObjectID string, assignment AppRoleAssignment) error
	AddPassword(ctx context.Context, appObjectID, displayName string, start, end time.Time) (*PasswordCredential, error)
}

// HTTPClient implements Client against the Microsoft Graph REST API.
type HTTPClient struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewHTTPClient creates a Graph client. baseURL may be empty to use the
// public v1.0 endpoint.
func NewHTTPClient(baseURL string, tokens TokenSource) *HTTPClient {
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

// collection is the Graph list envelope.
type collection[T any] struct {
	Value []T `json:"value"`
}

// odataError is the Graph error envelope.
type odataError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do executes one Graph request and decodes the response into out (when out
// is non-nil). Non-2xx responses are turned into errors carrying the odata
// error code when the body has one.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
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

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var oe odataError
		if json.Unmarshal(respBody, &oe) == nil && oe.Error.Code != "" {
			return fmt.Errorf("graph API error %s (HTTP %d): %s", oe.Error.Code, resp.StatusCode, oe.Error.Message)
		}
		return fmt.Errorf("graph API returned HTTP %d", resp.StatusCode)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Me returns the principal the session is authenticated as.
func (c *HTTPClient) Me(ctx context.Context) (*DirectoryObject, error) {
	var me DirectoryObject
	if err := c.do(ctx, http.MethodGet, "/me", nil, &me); err != nil {
		return nil, fmt.Errorf("failed to resolve acting principal: %w", err)
	}
	return &me, nil
}

// ListOrganizations returns the tenant organization records.
func (c *HTTPClient) ListOrganizations(ctx context.Context) ([]Organization, error) {
	var envelope collection[Organization]
	if err := c.do(ctx, http.MethodGet, "/organization", nil, &envelope); err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return envelope.Value, nil
}

// ListDirectoryRoles returns the administrative roles activated in the tenant.
func (c *HTTPClient) ListDirectoryRoles(ctx context.Context) ([]DirectoryRole, error) {
	var envelope collection[DirectoryRole]
	if err := c.do(ctx, http.MethodGet, "/directoryRoles", nil, &envelope); err != nil {
		return nil, fmt.Errorf("failed to list directory roles: %w", err)
	}
	return envelope.Value, nil
}

// ListDirectoryRoleMembers returns the members of one directory role.
func (c *HTTPClient) ListDirectoryRoleMembers(ctx context.Context, roleID string) ([]DirectoryObject, error) {
	var envelope collection[DirectoryObject]
	path := fmt.Sprintf("/directoryRoles/%s/members", url.PathEscape(roleID))
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, fmt.Errorf("failed to list members of role %s: %w", roleID, err)
	}
	return envelope.Value, nil
}

// createApplicationRequest is the body for POST /applications.
type createApplicationRequest struct {
	DisplayName string `json:"displayName"`
}

// CreateApplication registers a new application object.
func (c *HTTPClient) CreateApplication(ctx context.Context, displayName string) (*Application, error) {
	var app Application
	err := c.do(ctx, http.MethodPost, "/applications", createApplicationRequest{DisplayName: displayName}, &app)
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return &app, nil
}

// GetApplication reads an application by object id.
func (c *HTTPClient) GetApplication(ctx context.Context, objectID string) (*Application, error) {
	var app Application
	path := fmt.Sprintf("/applications/%s", url.PathEscape(objectID))
	if err := c.do(ctx, http.MethodGet, path, nil, &app); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get application %s: %w", objectID, err)
	}
	return &app, nil
}

// createServicePrincipalRequest is the body for POST /servicePrincipals.
type createServicePrincipalRequest struct {
	AppID string `json:"appId"`
}

// CreateServicePrincipal instantiates the tenant-local principal for an
// application id.
func (c *HTTPClient) CreateServicePrincipal(ctx context.Context, appID string) (*ServicePrincipal, error) {
	var sp ServicePrincipal
	err := c.do(ctx, http.MethodPost, "/servicePrincipals", createServicePrincipalRequest{AppID: appID}, &sp)
	if err != nil {
		return nil, fmt.Errorf("failed to create service principal: %w", err)
	}
	return &sp, nil
}

// GetServicePrincipalByAppID resolves a service principal by application id.
func (c *HTTPClient) GetServicePrincipalByAppID(ctx context.Context, appID string) (*ServicePrincipal, error) {
	var envelope collection[ServicePrincipal]
	path := fmt.Sprintf("/servicePrincipals?$filter=appId eq '%s'", appID)
	// $filter values are quoted, not path segments; escape the query portion only.
	path = strings.Replace(path, " ", "%20", -1)
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, fmt.Errorf("failed to query service principal for appId %s: %w", appID, err)
	}
	if len(envelope.Value) == 0 {
		return nil, ErrNotFound
	}
	return &envelope.Value[0], nil
}

// updateRequiredAccessRequest is the body for PATCH /applications/{id}.
type updateRequiredAccessRequest struct {
	RequiredResourceAccess []RequiredResourceAccess `json:"requiredResourceAccess"`
}

// UpdateRequiredAccess replaces the application's declared resource access.
func (c *HTTPClient) UpdateRequiredAccess(ctx context.Context, appObjectID string, blocks []RequiredResourceAccess) error {
	path := fmt.Sprintf("/applications/%s", url.PathEscape(appObjectID))
	err := c.do(ctx, http.MethodPatch, path, updateRequiredAccessRequest{RequiredResourceAccess: blocks}, nil)
	if err != nil {
		return fmt.Errorf("failed to update required resource access: %w", err)
	}
	return nil
}

// CreateAppRoleAssignment grants one app role to a principal on a resource.
// The POST goes to the resource service principal's appRoleAssignedTo
// collection, which is how tenant-admin consent is recorded for application
// permissions.
func (c *HTTPClient) CreateAppRoleAssignment(ctx context.Context, resourceObjectID string, assignment AppRoleAssignment) error {
	path := fmt.Sprintf("/servicePrincipals/%s/appRoleAssignedTo", url.PathEscape(resourceObjectID))
	if err := c.do(ctx, http.MethodPost, path, assignment, nil); err != nil {
		return fmt.Errorf("failed to create app role assignment: %w", err)
	}
	return nil
}

// addPasswordRequest is the body for POST /applications/{id}/addPassword.
type addPasswordRequest struct {
	PasswordCredential PasswordCredential `json:"passwordCredential"`
}

// AddPassword creates a client secret on the application. The returned
// credential carries the plaintext secret; Graph never returns it again.
func (c *HTTPClient) AddPassword(ctx context.Context, appObjectID, displayName string, start, end time.Time) (*PasswordCredential, error) {
	path := fmt.Sprintf("/applications/%s/addPassword", url.PathEscape(appObjectID))
	req := addPasswordRequest{
		PasswordCredential: PasswordCredential{
			DisplayName:   displayName,
			StartDateTime: start,
			EndDateTime:   end,
		},
	}
	var cred PasswordCredential
	if err := c.do(ctx, http.MethodPost, path, req, &cred); err != nil {
		return nil, fmt.Errorf("failed to add application password: %w", err)
	}
	return &cred, nil
}
