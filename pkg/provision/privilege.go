package provision

import (
	"context"
	"log/slog"

	"github.com/openportal-labs/entraprov/pkg/graph"
)

// AdminRoleNames is the allow-list of directory roles that may run the
// provisioning workflow.
var AdminRoleNames = []string{
	"Global Administrator",
	"Application Administrator",
	"Cloud Application Administrator",
}

// CheckPrivilege reports whether the acting principal is a member of at least
// one allow-listed administrative role.
//
// Membership lookups can fail per role (deleted role instances, partial
// replicas); such failures are treated as "not a member of this role" and the
// check moves on. Only the role enumeration itself is fatal.
func CheckPrivilege(ctx context.Context, client graph.Client, logger *slog.Logger, principalID string) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	roles, err := client.ListDirectoryRoles(ctx)
	if err != nil {
		return false, err
	}

	allowed := make(map[string]bool, len(AdminRoleNames))
	for _, name := range AdminRoleNames {
		allowed[name] = true
	}

	for _, role := range roles {
		if !allowed[role.DisplayName] {
			continue
		}
		members, err := client.ListDirectoryRoleMembers(ctx, role.ID)
		if err != nil {
			logger.Warn("membership lookup failed, treating as not a member",
				"role", role.DisplayName, "error", err)
			continue
		}
		for _, member := range members {
			if member.ID == principalID {
				return true, nil
			}
		}
	}
	return false, nil
}
