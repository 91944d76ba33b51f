package provision

import (
	"log/slog"

	"github.com/openportal-labs/entraprov/pkg/graph"
)

// GraphPermissionNames is the fixed catalogue of application permissions
// requested against the Microsoft Graph resource. The set is read-only
// reporting surface for the security-posture checks the provisioned app runs.
var GraphPermissionNames = []string{
	"DeviceManagementConfiguration.Read.All",
	"DeviceManagementManagedDevices.Read.All",
	"Directory.Read.All",
	"DirectoryRecommendations.Read.All",
	"IdentityRiskEvent.Read.All",
	"Policy.Read.All",
	"Policy.Read.ConditionalAccess",
	"PrivilegedAccess.Read.AzureAD",
	"Reports.Read.All",
	"RoleEligibilitySchedule.Read.Directory",
	"RoleManagement.Read.All",
	"SharePointTenantSettings.Read.All",
	"UserAuthenticationMethod.Read.All",
}

// ExchangePermissionName is the single permission requested against the
// Exchange Online resource when the mail extension is enabled.
const ExchangePermissionName = "Exchange.ManageAsApp"

// ResolveRoles maps requested permission names against a resource's published
// role catalogue. Names that do not resolve to an application-assignable,
// enabled role are skipped with a warning rather than failing the run:
// catalogue drift in the remote resource must not abort provisioning.
//
// The returned block lists one ResourceAccess per resolved name. A block with
// zero entries means nothing resolved; callers must not attach it.
func ResolveRoles(logger *slog.Logger, resource *graph.ServicePrincipal, requestedNames []string) graph.RequiredResourceAccess {
	if logger == nil {
		logger = slog.Default()
	}

	// One pass over the catalogue, then exact-key lookups per requested name.
	byName := make(map[string]graph.AppRole, len(resource.AppRoles))
	for _, role := range resource.AppRoles {
		if !role.IsEnabled || !role.AssignableToApplications() {
			continue
		}
		byName[role.Value] = role
	}

	block := graph.RequiredResourceAccess{ResourceAppID: resource.AppID}
	for _, name := range requestedNames {
		role, ok := byName[name]
		if !ok {
			logger.Warn("permission not found in resource catalogue, skipping",
				"permission", name, "resource", resource.DisplayName)
			continue
		}
		block.ResourceAccess = append(block.ResourceAccess, graph.ResourceAccess{
			ID:   role.ID,
			Type: "Role",
		})
	}
	return block
}
