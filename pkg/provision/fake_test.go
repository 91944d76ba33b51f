package provision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openportal-labs/entraprov/pkg/graph"
)

// fakeGraph is an in-memory graph.Client for orchestrator tests.
type fakeGraph struct {
	mu sync.Mutex

	me    graph.DirectoryObject
	meErr error

	orgs    []graph.Organization
	orgsErr error

	roles      []graph.DirectoryRole
	rolesErr   error
	members    map[string][]graph.DirectoryObject
	memberErrs map[string]error

	// resource (API) principals by appId, e.g. Microsoft Graph.
	resourcePrincipals map[string]*graph.ServicePrincipal

	createdApps []*graph.Application
	createdSPs  []*graph.ServicePrincipal
	updateCalls [][]graph.RequiredResourceAccess
	assignments []graph.AppRoleAssignment
	assignErr   error
	secretErr   error

	// readBack, when set, overrides GetApplication.
	readBack func(objectID string) (*graph.Application, error)
}

func newFakeGraph() *fakeGraph {
	adminRoleID := uuid.NewString()
	me := graph.DirectoryObject{ID: uuid.NewString(), UserPrincipalName: "admin@contoso.example"}
	return &fakeGraph{
		me: me,
		orgs: []graph.Organization{{
			ID:          uuid.NewString(),
			DisplayName: "Contoso",
			VerifiedDomains: []graph.VerifiedDomain{
				{Name: "contoso.example", IsInitial: true, IsVerified: true},
			},
		}},
		roles: []graph.DirectoryRole{
			{ID: adminRoleID, DisplayName: "Global Administrator"},
		},
		members: map[string][]graph.DirectoryObject{
			adminRoleID: {me},
		},
		memberErrs: map[string]error{},
		resourcePrincipals: map[string]*graph.ServicePrincipal{
			graph.MicrosoftGraphAppID: graphResourcePrincipal(),
			graph.ExchangeOnlineAppID: exchangeResourcePrincipal(),
		},
	}
}

// graphResourcePrincipal publishes the full 13-permission catalogue.
func graphResourcePrincipal() *graph.ServicePrincipal {
	sp := &graph.ServicePrincipal{
		ID:          uuid.NewString(),
		AppID:       graph.MicrosoftGraphAppID,
		DisplayName: "Microsoft Graph",
	}
	for _, name := range GraphPermissionNames {
		sp.AppRoles = append(sp.AppRoles, graph.AppRole{
			ID:                 uuid.NewString(),
			Value:              name,
			AllowedMemberTypes: []string{"Application"},
			IsEnabled:          true,
		})
	}
	return sp
}

func exchangeResourcePrincipal() *graph.ServicePrincipal {
	return &graph.ServicePrincipal{
		ID:          uuid.NewString(),
		AppID:       graph.ExchangeOnlineAppID,
		DisplayName: "Office 365 Exchange Online",
		AppRoles: []graph.AppRole{{
			ID:                 uuid.NewString(),
			Value:              ExchangePermissionName,
			AllowedMemberTypes: []string{"Application"},
			IsEnabled:          true,
		}},
	}
}

func (f *fakeGraph) Me(context.Context) (*graph.DirectoryObject, error) {
	if f.meErr != nil {
		return nil, f.meErr
	}
	me := f.me
	return &me, nil
}

func (f *fakeGraph) ListOrganizations(context.Context) ([]graph.Organization, error) {
	if f.orgsErr != nil {
		return nil, f.orgsErr
	}
	return f.orgs, nil
}

func (f *fakeGraph) ListDirectoryRoles(context.Context) ([]graph.DirectoryRole, error) {
	if f.rolesErr != nil {
		return nil, f.rolesErr
	}
	return f.roles, nil
}

func (f *fakeGraph) ListDirectoryRoleMembers(_ context.Context, roleID string) ([]graph.DirectoryObject, error) {
	if err := f.memberErrs[roleID]; err != nil {
		return nil, err
	}
	return f.members[roleID], nil
}

func (f *fakeGraph) CreateApplication(_ context.Context, displayName string) (*graph.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app := &graph.Application{
		ID:          uuid.NewString(),
		AppID:       uuid.NewString(),
		DisplayName: displayName,
	}
	f.createdApps = append(f.createdApps, app)
	return app, nil
}

func (f *fakeGraph) GetApplication(_ context.Context, objectID string) (*graph.Application, error) {
	if f.readBack != nil {
		return f.readBack(objectID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, app := range f.createdApps {
		if app.ID == objectID {
			copied := *app
			return &copied, nil
		}
	}
	return nil, graph.ErrNotFound
}

func (f *fakeGraph) CreateServicePrincipal(_ context.Context, appID string) (*graph.ServicePrincipal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp := &graph.ServicePrincipal{ID: uuid.NewString(), AppID: appID}
	f.createdSPs = append(f.createdSPs, sp)
	return sp, nil
}

func (f *fakeGraph) GetServicePrincipalByAppID(_ context.Context, appID string) (*graph.ServicePrincipal, error) {
	if sp, ok := f.resourcePrincipals[appID]; ok {
		return sp, nil
	}
	return nil, graph.ErrNotFound
}

func (f *fakeGraph) UpdateRequiredAccess(_ context.Context, appObjectID string, blocks []graph.RequiredResourceAccess) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, app := range f.createdApps {
		if app.ID == appObjectID {
			app.RequiredResourceAccess = blocks
			f.updateCalls = append(f.updateCalls, blocks)
			return nil
		}
	}
	return fmt.Errorf("application %s not found", appObjectID)
}

func (f *fakeGraph) CreateAppRoleAssignment(_ context.Context, resourceObjectID string, assignment graph.AppRoleAssignment) error {
	if f.assignErr != nil {
		return f.assignErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignments = append(f.assignments, assignment)
	return nil
}

func (f *fakeGraph) AddPassword(_ context.Context, appObjectID, displayName string, start, end time.Time) (*graph.PasswordCredential, error) {
	if f.secretErr != nil {
		return nil, f.secretErr
	}
	return &graph.PasswordCredential{
		KeyID:         uuid.NewString(),
		DisplayName:   displayName,
		StartDateTime: start,
		EndDateTime:   end,
		SecretText:    "fake-secret-" + uuid.NewString(),
	}, nil
}

// fakeMail records app-only connection attempts.
type fakeMail struct {
	connectErr error
	calls      []string // "appID|domain"
}

func (f *fakeMail) ConnectAppOnly(_ context.Context, appID, organization string) error {
	f.calls = append(f.calls, appID+"|"+organization)
	return f.connectErr
}

// fakeARM records elevation and role assignment calls.
type fakeARM struct {
	elevateErr error
	assignErr  error
	elevations int
	assigned   []string // "principal|scope|role"
}

func (f *fakeARM) ElevateAccess(context.Context) error {
	f.elevations++
	return f.elevateErr
}

func (f *fakeARM) CreateRoleAssignment(_ context.Context, principalID, scope, roleName string) error {
	if f.assignErr != nil {
		return f.assignErr
	}
	f.assigned = append(f.assigned, principalID+"|"+scope+"|"+roleName)
	return nil
}
