package provision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openportal-labs/entraprov/pkg/clierror"
	"github.com/openportal-labs/entraprov/pkg/graph"
)

func testProvisioner(g *fakeGraph) *Provisioner {
	return &Provisioner{
		Graph:  g,
		Settle: time.Millisecond,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRun_NoExtensions(t *testing.T) {
	t.Parallel()
	g := newFakeGraph()
	p := testProvisioner(g)

	var progress []RunProgress
	p.Progress = func(pr RunProgress) { progress = append(progress, pr) }

	result, err := p.Run(context.Background(), Request{ApplicationName: "Maester"})
	require.NoError(t, err)

	// One application, one service principal.
	require.Len(t, g.createdApps, 1)
	require.Len(t, g.createdSPs, 1)
	assert.Equal(t, "Maester", g.createdApps[0].DisplayName)

	// One required-access block carrying all 13 catalogue roles.
	require.Len(t, g.updateCalls, 1)
	blocks := g.updateCalls[0]
	require.Len(t, blocks, 1)
	assert.Equal(t, graph.MicrosoftGraphAppID, blocks[0].ResourceAppID)
	assert.Len(t, blocks[0].ResourceAccess, len(GraphPermissionNames))

	// One consent grant per resolved role, self-referential on the new SP.
	require.Len(t, g.assignments, len(GraphPermissionNames))
	for _, a := range g.assignments {
		assert.Equal(t, g.createdSPs[0].ID, a.PrincipalID)
	}

	// Result record is complete and the secret has a 6-month window.
	assert.NotEmpty(t, result.TenantID)
	assert.NotEmpty(t, result.ClientID)
	assert.NotEmpty(t, result.ClientSecret)
	assert.WithinDuration(t, time.Now().AddDate(0, 6, 0), result.SecretExpires, time.Minute)

	// Progress covered every stage exactly once, in order, with a stable total.
	require.Len(t, progress, 9)
	for i, pr := range progress {
		assert.Equal(t, i+1, pr.Current)
		assert.Equal(t, 9, pr.Total)
	}
	assert.Equal(t, StageEnsureDependencies, progress[0].Stage)
	assert.Equal(t, StageIssueCredential, progress[8].Stage)
}

func TestRun_MailExtension_NoVerifiedDomain(t *testing.T) {
	t.Parallel()
	g := newFakeGraph()
	g.orgs[0].VerifiedDomains = nil
	p := testProvisioner(g)
	p.Mail = &fakeMail{}

	_, err := p.Run(context.Background(), Request{ApplicationName: "Maester", MailExtension: true})
	require.Error(t, err)

	var cliErr *clierror.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, clierror.CodeResourceNotFound, cliErr.Code)
	assert.Equal(t, string(StageConnectMail), cliErr.Stage)

	// No rollback: the application, SP, and all prior grants remain.
	assert.Len(t, g.createdApps, 1)
	assert.Len(t, g.createdSPs, 1)
	assert.Len(t, g.assignments, len(GraphPermissionNames)+1) // 13 Graph + 1 Exchange
}

func TestRun_MailExtension_Success(t *testing.T) {
	t.Parallel()
	g := newFakeGraph()
	p := testProvisioner(g)
	m := &fakeMail{}
	p.Mail = m

	result, err := p.Run(context.Background(), Request{ApplicationName: "Maester", MailExtension: true})
	require.NoError(t, err)

	// Two blocks: Graph catalogue plus the single Exchange permission.
	require.Len(t, g.updateCalls, 1)
	require.Len(t, g.updateCalls[0], 2)
	assert.Equal(t, graph.ExchangeOnlineAppID, g.updateCalls[0][1].ResourceAppID)
	assert.Len(t, g.updateCalls[0][1].ResourceAccess, 1)

	// The app-only session targeted the initial verified domain with the new
	// application's client id.
	require.Len(t, m.calls, 1)
	assert.Equal(t, result.ClientID+"|contoso.example", m.calls[0])
}

func TestRun_PrivilegeDenied(t *testing.T) {
	t.Parallel()
	g := newFakeGraph()
	// The acting principal only holds a non-administrative role.
	g.roles = []graph.DirectoryRole{{ID: "r1", DisplayName: "Helpdesk Administrator"}}
	g.members = map[string][]graph.DirectoryObject{"r1": {g.me}}
	p := testProvisioner(g)

	_, err := p.Run(context.Background(), Request{ApplicationName: "Maester"})
	require.Error(t, err)

	var cliErr *clierror.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, clierror.CodePrivilegeDenied, cliErr.Code)
	assert.Equal(t, string(StageCheckPrivilege), cliErr.Stage)

	// The gate runs before any mutating stage: nothing was created.
	assert.Empty(t, g.createdApps)
	assert.Empty(t, g.createdSPs)
	assert.Empty(t, g.assignments)
}

func TestRun_ConsistencyViolationOnReadBack(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		readBack func(string) (*graph.Application, error)
	}{
		{
			name: "read-back absent",
			readBack: func(string) (*graph.Application, error) {
				return nil, graph.ErrNotFound
			},
		},
		{
			name: "read-back id mismatch",
			readBack: func(string) (*graph.Application, error) {
				return &graph.Application{ID: "different-object"}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newFakeGraph()
			g.readBack = tt.readBack
			p := testProvisioner(g)

			_, err := p.Run(context.Background(), Request{ApplicationName: "Maester"})
			require.Error(t, err)

			var cliErr *clierror.CLIError
			require.ErrorAs(t, err, &cliErr)
			assert.Equal(t, clierror.CodeConsistencyViolation, cliErr.Code)
			assert.Equal(t, string(StageCreateApplication), cliErr.Stage)
		})
	}
}

func TestRun_ARMExtension(t *testing.T) {
	t.Parallel()
	g := newFakeGraph()
	p := testProvisioner(g)
	a := &fakeARM{}
	p.ARM = a

	_, err := p.Run(context.Background(), Request{ApplicationName: "Maester", ARMExtension: true})
	require.NoError(t, err)

	assert.Equal(t, 1, a.elevations)
	require.Len(t, a.assigned, 2)
	spID := g.createdSPs[0].ID
	assert.Equal(t, spID+"|/|Reader", a.assigned[0])
	assert.Equal(t, spID+"|/providers/Microsoft.aadiam|Reader", a.assigned[1])
}

func TestRun_ARMExtension_ElevationFailureIsFatal(t *testing.T) {
	t.Parallel()
	g := newFakeGraph()
	p := testProvisioner(g)
	p.ARM = &fakeARM{elevateErr: errors.New("HTTP 403")}

	_, err := p.Run(context.Background(), Request{ApplicationName: "Maester", ARMExtension: true})
	require.Error(t, err)

	var cliErr *clierror.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, string(StageConfigureARM), cliErr.Stage)
	assert.Equal(t, clierror.CodeRemoteOperationFailure, cliErr.Code)
}

func TestRun_NotIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()
	g := newFakeGraph()
	p := testProvisioner(g)

	first, err := p.Run(context.Background(), Request{ApplicationName: "Maester"})
	require.NoError(t, err)
	second, err := p.Run(context.Background(), Request{ApplicationName: "Maester"})
	require.NoError(t, err)

	// Two runs with the same name create two distinct applications.
	require.Len(t, g.createdApps, 2)
	assert.NotEqual(t, first.ClientID, second.ClientID)
	assert.NotEqual(t, first.ObjectID, second.ObjectID)
}

func TestRun_FailureStopsSubsequentStages(t *testing.T) {
	t.Parallel()
	g := newFakeGraph()
	g.assignErr = errors.New("HTTP 503")
	p := testProvisioner(g)

	_, err := p.Run(context.Background(), Request{ApplicationName: "Maester"})
	require.Error(t, err)

	var cliErr *clierror.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, string(StageGrantConsent), cliErr.Stage)

	// The credential stage never ran: permissions were attached but no secret
	// exists and nothing rolled the application back.
	assert.Len(t, g.createdApps, 1)
	assert.Len(t, g.updateCalls, 1)
	assert.Empty(t, g.assignments)
}

func TestRun_VerifyTenant_NoOrganization(t *testing.T) {
	t.Parallel()
	g := newFakeGraph()
	g.orgs = nil
	p := testProvisioner(g)

	_, err := p.Run(context.Background(), Request{ApplicationName: "Maester"})
	require.Error(t, err)

	var cliErr *clierror.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, clierror.CodeResourceNotFound, cliErr.Code)
	assert.Equal(t, string(StageVerifyTenant), cliErr.Stage)
}

func TestRun_TenantGuard(t *testing.T) {
	t.Parallel()

	t.Run("verified domain matches", func(t *testing.T) {
		g := newFakeGraph()
		p := testProvisioner(g)
		_, err := p.Run(context.Background(), Request{
			ApplicationName: "Maester",
			ExpectedTenant:  "contoso.example",
		})
		require.NoError(t, err)
	})

	t.Run("tenant id matches", func(t *testing.T) {
		g := newFakeGraph()
		p := testProvisioner(g)
		_, err := p.Run(context.Background(), Request{
			ApplicationName: "Maester",
			ExpectedTenant:  g.orgs[0].ID,
		})
		require.NoError(t, err)
	})

	t.Run("mismatch refuses before any write", func(t *testing.T) {
		g := newFakeGraph()
		p := testProvisioner(g)
		_, err := p.Run(context.Background(), Request{
			ApplicationName: "Maester",
			ExpectedTenant:  "fabrikam.example",
		})
		require.Error(t, err)

		var cliErr *clierror.CLIError
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, clierror.CodeAuthenticationFailure, cliErr.Code)
		assert.Equal(t, string(StageVerifyTenant), cliErr.Stage)
		assert.Empty(t, g.createdApps)
	})
}

func TestRun_EmptyApplicationName(t *testing.T) {
	t.Parallel()
	p := testProvisioner(newFakeGraph())
	_, err := p.Run(context.Background(), Request{})
	require.Error(t, err)
}

func TestInitialVerifiedDomain(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		domains []graph.VerifiedDomain
		want    string
	}{
		{
			name: "initial preferred",
			domains: []graph.VerifiedDomain{
				{Name: "vanity.example", IsVerified: true},
				{Name: "contoso.onmicrosoft.example", IsInitial: true, IsVerified: true},
			},
			want: "contoso.onmicrosoft.example",
		},
		{
			name: "fallback to any verified",
			domains: []graph.VerifiedDomain{
				{Name: "pending.example", IsVerified: false},
				{Name: "vanity.example", IsVerified: true},
			},
			want: "vanity.example",
		},
		{
			name:    "nothing verified",
			domains: []graph.VerifiedDomain{{Name: "pending.example"}},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			org := &graph.Organization{VerifiedDomains: tt.domains}
			assert.Equal(t, tt.want, initialVerifiedDomain(org))
		})
	}
}
