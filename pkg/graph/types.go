package graph

import "time"

// Well-known resource application IDs. Every tenant exposes a service
// principal for these first-party resources.
const (
	// MicrosoftGraphAppID is the resource appId of the Microsoft Graph API.
	MicrosoftGraphAppID = "00000003-0000-0000-c000-000000000000"

	// ExchangeOnlineAppID is the resource appId of the Office 365 Exchange
	// Online API.
	ExchangeOnlineAppID = "00000002-0000-0ff1-ce00-000000000000"
)

// RoleAllowedMemberTypeApplication marks an app role assignable to
// application identities (as opposed to users or groups).
const RoleAllowedMemberTypeApplication = "Application"

// Application represents a directory application object (app registration).
type Application struct {
	ID                     string                   `json:"id"`
	AppID                  string                   `json:"appId"`
	DisplayName            string                   `json:"displayName"`
	RequiredResourceAccess []RequiredResourceAccess `json:"requiredResourceAccess,omitempty"`
}

// RequiredResourceAccess declares, for one downstream resource, which of its
// roles the application requests.
type RequiredResourceAccess struct {
	ResourceAppID  string           `json:"resourceAppId"`
	ResourceAccess []ResourceAccess `json:"resourceAccess"`
}

// ResourceAccess is a single requested role or scope on a resource.
type ResourceAccess struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "Role" for application permissions
}

// ServicePrincipal is the tenant-local principal instantiated from an
// application. AppRoles carries the published role catalogue when the
// principal represents a resource API.
type ServicePrincipal struct {
	ID          string    `json:"id"`
	AppID       string    `json:"appId"`
	DisplayName string    `json:"displayName"`
	AppRoles    []AppRole `json:"appRoles,omitempty"`
}

// AppRole is one entry in a resource's published role catalogue.
type AppRole struct {
	ID                 string   `json:"id"`
	Value              string   `json:"value"` // permission name, e.g. Directory.Read.All
	DisplayName        string   `json:"displayName,omitempty"`
	AllowedMemberTypes []string `json:"allowedMemberTypes"`
	IsEnabled          bool     `json:"isEnabled"`
}

// AssignableToApplications reports whether the role can be granted to an
// application identity.
func (r AppRole) AssignableToApplications() bool {
	for _, t := range r.AllowedMemberTypes {
		if t == RoleAllowedMemberTypeApplication {
			return true
		}
	}
	return false
}

// DirectoryRole is an activated administrative role in the tenant.
type DirectoryRole struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	RoleTemplateID string `json:"roleTemplateId,omitempty"`
}

// DirectoryObject is a minimal directory object reference, used for role
// members and the acting principal.
type DirectoryObject struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
	ODataType         string `json:"@odata.type,omitempty"`
}

// Organization is the tenant-level directory record.
type Organization struct {
	ID              string           `json:"id"`
	DisplayName     string           `json:"displayName"`
	VerifiedDomains []VerifiedDomain `json:"verifiedDomains,omitempty"`
}

// VerifiedDomain is one domain attached to the organization record.
type VerifiedDomain struct {
	Name       string `json:"name"`
	IsInitial  bool   `json:"isInitial"`
	IsVerified bool   `json:"isVerified"`
	IsDefault  bool   `json:"isDefault"`
}

// AppRoleAssignment binds a principal to a role on a resource service
// principal. Creating one with the tenant's admin session constitutes admin
// consent for that role.
type AppRoleAssignment struct {
	PrincipalID string `json:"principalId"`
	ResourceID  string `json:"resourceId"`
	AppRoleID   string `json:"appRoleId"`
}

// PasswordCredential is an application client secret. SecretText is only
// populated on the response to the add call and is never retrievable again.
type PasswordCredential struct {
	KeyID         string    `json:"keyId,omitempty"`
	DisplayName   string    `json:"displayName"`
	StartDateTime time.Time `json:"startDateTime"`
	EndDateTime   time.Time `json:"endDateTime"`
	SecretText    string    `json:"secretText,omitempty"`
}
