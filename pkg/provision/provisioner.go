// Package provision implements the app-registration provisioning workflow:
// an ordered sequence of directory control-plane stages that creates an
// application and its service principal, resolves and assigns a fixed
// permission catalogue, grants admin consent, optionally extends trust to the
// mail platform and the resource-management plane, and issues a time-bounded
// client secret.
//
// Execution is strictly sequential. The first stage failure aborts the run
// with a stage-tagged error; objects already created are left in place for
// inspection. Re-running with the same application name creates a second,
// distinct application — creation is deliberately not idempotent.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openportal-labs/entraprov/pkg/arm"
	"github.com/openportal-labs/entraprov/pkg/audit"
	"github.com/openportal-labs/entraprov/pkg/clierror"
	"github.com/openportal-labs/entraprov/pkg/depcheck"
	"github.com/openportal-labs/entraprov/pkg/graph"
	"github.com/openportal-labs/entraprov/pkg/mail"
	"github.com/openportal-labs/entraprov/pkg/store"
)

// DefaultSettleDuration is the propagation wait after consent grants.
// Directory writes are eventually consistent; a session opened immediately
// after granting roles may not see them yet.
const DefaultSettleDuration = 30 * time.Second

// secretValidityMonths is the lifetime of the issued client secret.
const secretValidityMonths = 6

// Request describes one provisioning run. Immutable once the run starts.
type Request struct {
	ApplicationName string
	MailExtension   bool
	ARMExtension    bool

	// ExpectedTenant, when set, must match the session's tenant id or one of
	// its verified domains. Guards against provisioning into the wrong tenant
	// with a stale token.
	ExpectedTenant string
}

// Result is the structured outcome of a successful run. ClientSecret is
// surfaced here exactly once and never persisted by this tool.
type Result struct {
	RunID              string    `json:"runId"`
	TenantID           string    `json:"tenantId"`
	ClientID           string    `json:"clientId"`
	ObjectID           string    `json:"objectId"`
	ServicePrincipalID string    `json:"servicePrincipalId"`
	ClientSecret       string    `json:"clientSecret"`
	SecretExpires      time.Time `json:"secretExpires"`
}

// Provisioner orchestrates a run. Graph is required; Mail and ARM are only
// consulted when the corresponding extension is requested. Store and Audit
// are optional observers whose failures never abort a run.
type Provisioner struct {
	Graph  graph.Client
	Mail   mail.Client
	ARM    arm.Client
	Deps   *depcheck.Checker
	Settle time.Duration

	Logger   *slog.Logger
	Progress ProgressFunc
	Audit    *audit.RunEmitter
	Store    *store.Store

	// now is swappable for tests.
	now func() time.Time
}

// runState accumulates what stages learn, in dependency order.
type runState struct {
	req   Request
	runID string

	actingPrincipal *graph.DirectoryObject
	org             *graph.Organization
	app             *graph.Application
	sp              *graph.ServicePrincipal

	// resources holds, per downstream resource, the tenant-local principal
	// and the resolved access block. Populated by AssignPermissions, consumed
	// by GrantConsent.
	resources []resolvedResource

	secret *graph.PasswordCredential
}

type resolvedResource struct {
	principal *graph.ServicePrincipal
	block     graph.RequiredResourceAccess
}

type stageFunc func(ctx context.Context, st *runState) *clierror.CLIError

type stageDef struct {
	name Stage
	run  stageFunc
}

// stages returns the ordered stage list for a request. Optional extension
// stages are omitted entirely when not requested, so progress totals match
// what will actually run.
func (p *Provisioner) stages(req Request) []stageDef {
	list := []stageDef{
		{StageEnsureDependencies, p.ensureDependencies},
		{StageVerifyDependencies, p.verifyDependencies},
		{StageConnect, p.connect},
		{StageVerifyTenant, p.verifyTenant},
		{StageCheckPrivilege, p.checkPrivilege},
		{StageCreateApplication, p.createApplication},
		{StageAssignPermissions, p.assignPermissions},
		{StageGrantConsent, p.grantConsent},
	}
	if req.MailExtension {
		list = append(list, stageDef{StageConnectMail, p.connectMailExtension})
	}
	if req.ARMExtension {
		list = append(list, stageDef{StageConfigureARM, p.configureARMExtension})
	}
	return append(list, stageDef{StageIssueCredential, p.issueCredential})
}

// Run executes the workflow. On failure the returned error is always a
// *clierror.CLIError tagged with the failing stage.
func (p *Provisioner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.ApplicationName == "" {
		return nil, clierror.InternalError(fmt.Errorf("application name is required"))
	}
	logger := p.logger()
	emitter := p.emitter()

	st := &runState{req: req, runID: uuid.NewString()}
	logger.Info("provisioning run starting",
		"run_id", st.runID,
		"application", req.ApplicationName,
		"mail_extension", req.MailExtension,
		"arm_extension", req.ARMExtension,
	)
	emitter.Record(audit.NewProvisionStart(st.runID, req.ApplicationName, req.MailExtension, req.ARMExtension))
	p.recordRunStart(st)

	stages := p.stages(req)
	for i, stage := range stages {
		p.reportProgress(RunProgress{Current: i + 1, Total: len(stages), Stage: stage.name})
		logger.Debug("stage starting", "run_id", st.runID, "stage", string(stage.name))

		if err := stage.run(ctx, st); err != nil {
			err.Stage = string(stage.name)
			logger.Error("stage failed",
				"run_id", st.runID, "stage", string(stage.name), "code", err.Code, "error", err.Message)
			emitter.Record(audit.NewProvisionFailed(st.runID, req.ApplicationName, string(stage.name), err.Code, err.Message))
			p.recordRunFinish(st, store.StatusFailed, stage.name, err)
			return nil, err
		}
		p.recordRunProgress(st, stage.name)
	}

	result := &Result{
		RunID:              st.runID,
		TenantID:           st.org.ID,
		ClientID:           st.app.AppID,
		ObjectID:           st.app.ID,
		ServicePrincipalID: st.sp.ID,
		ClientSecret:       st.secret.SecretText,
		SecretExpires:      st.secret.EndDateTime,
	}
	emitter.Record(audit.NewProvisionComplete(st.runID, req.ApplicationName, result.ClientID))
	p.recordRunFinish(st, store.StatusSucceeded, StageDone, nil)
	logger.Info("provisioning run complete", "run_id", st.runID, "client_id", result.ClientID)
	return result, nil
}

func (p *Provisioner) ensureDependencies(ctx context.Context, st *runState) *clierror.CLIError {
	if p.Deps == nil {
		return nil
	}
	p.Deps.Run(ctx)
	return nil
}

func (p *Provisioner) verifyDependencies(ctx context.Context, st *runState) *clierror.CLIError {
	if p.Deps == nil {
		return nil
	}
	if err := p.Deps.Verify(); err != nil {
		return clierror.DependencyUnavailable("", firstMissingName(p.Deps), err)
	}
	return nil
}

func firstMissingName(c *depcheck.Checker) string {
	for _, r := range c.Results() {
		if !r.Optional && r.State != depcheck.StateAvailable {
			return r.Name
		}
	}
	return "unknown"
}

func (p *Provisioner) connect(ctx context.Context, st *runState) *clierror.CLIError {
	me, err := p.Graph.Me(ctx)
	if err != nil {
		return clierror.AuthenticationFailure("", err)
	}
	st.actingPrincipal = me
	return nil
}

func (p *Provisioner) verifyTenant(ctx context.Context, st *runState) *clierror.CLIError {
	orgs, err := p.Graph.ListOrganizations(ctx)
	if err != nil {
		return clierror.RemoteOperationFailure("", err)
	}
	if len(orgs) == 0 {
		return clierror.ResourceNotFound("", "tenant organization record")
	}
	// Graph returns exactly one organization for the session's tenant.
	st.org = &orgs[0]

	if want := st.req.ExpectedTenant; want != "" && !tenantMatches(st.org, want) {
		return clierror.AuthenticationFailure("",
			fmt.Errorf("session is for tenant %s, expected %s", st.org.ID, want))
	}
	return nil
}

func tenantMatches(org *graph.Organization, want string) bool {
	if org.ID == want {
		return true
	}
	for _, d := range org.VerifiedDomains {
		if d.IsVerified && d.Name == want {
			return true
		}
	}
	return false
}

func (p *Provisioner) checkPrivilege(ctx context.Context, st *runState) *clierror.CLIError {
	ok, err := CheckPrivilege(ctx, p.Graph, p.logger(), st.actingPrincipal.ID)
	if err != nil {
		return clierror.RemoteOperationFailure("", err)
	}
	if !ok {
		name := st.actingPrincipal.UserPrincipalName
		if name == "" {
			name = st.actingPrincipal.ID
		}
		return clierror.PrivilegeDenied("", name)
	}
	return nil
}

func (p *Provisioner) createApplication(ctx context.Context, st *runState) *clierror.CLIError {
	app, err := p.Graph.CreateApplication(ctx, st.req.ApplicationName)
	if err != nil {
		return clierror.RemoteOperationFailure("", err)
	}

	// Read the object back by id. A create that "succeeded" but is not yet
	// readable, or reads back as a different object, means the directory
	// surfaced a stale success.
	readBack, err := p.Graph.GetApplication(ctx, app.ID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return clierror.ConsistencyViolation("", fmt.Sprintf("created application %s is not readable", app.ID))
		}
		return clierror.RemoteOperationFailure("", err)
	}
	if readBack.ID != app.ID {
		return clierror.ConsistencyViolation("",
			fmt.Sprintf("read-back returned object %s, expected %s", readBack.ID, app.ID))
	}
	st.app = app

	sp, err := p.Graph.CreateServicePrincipal(ctx, app.AppID)
	if err != nil {
		return clierror.RemoteOperationFailure("", err)
	}
	st.sp = sp

	p.emitter().Record(audit.NewAppCreated(st.runID, st.req.ApplicationName, app.ID, app.AppID, sp.ID))
	return nil
}

func (p *Provisioner) assignPermissions(ctx context.Context, st *runState) *clierror.CLIError {
	logger := p.logger()

	type want struct {
		appID string
		names []string
	}
	wanted := []want{{graph.MicrosoftGraphAppID, GraphPermissionNames}}
	if st.req.MailExtension {
		wanted = append(wanted, want{graph.ExchangeOnlineAppID, []string{ExchangePermissionName}})
	}

	var blocks []graph.RequiredResourceAccess
	st.resources = st.resources[:0]
	for _, w := range wanted {
		principal, err := p.Graph.GetServicePrincipalByAppID(ctx, w.appID)
		if err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				return clierror.ResourceNotFound("", fmt.Sprintf("resource principal for appId %s", w.appID))
			}
			return clierror.RemoteOperationFailure("", err)
		}

		block := ResolveRoles(logger, principal, w.names)
		if len(block.ResourceAccess) == 0 {
			// A block with zero resolved roles must not be emitted.
			logger.Warn("no permissions resolved for resource, omitting block",
				"resource", principal.DisplayName)
			continue
		}
		blocks = append(blocks, block)
		st.resources = append(st.resources, resolvedResource{principal: principal, block: block})
	}

	if err := p.Graph.UpdateRequiredAccess(ctx, st.app.ID, blocks); err != nil {
		return clierror.RemoteOperationFailure("", err)
	}

	roleCount := 0
	for _, b := range blocks {
		roleCount += len(b.ResourceAccess)
	}
	p.emitter().Record(audit.NewPermissionsAssigned(st.runID, st.req.ApplicationName, len(blocks), roleCount))
	return nil
}

func (p *Provisioner) grantConsent(ctx context.Context, st *runState) *clierror.CLIError {
	emitter := p.emitter()
	for _, res := range st.resources {
		for _, access := range res.block.ResourceAccess {
			assignment := graph.AppRoleAssignment{
				PrincipalID: st.sp.ID,
				ResourceID:  res.principal.ID,
				AppRoleID:   access.ID,
			}
			if err := p.Graph.CreateAppRoleAssignment(ctx, res.principal.ID, assignment); err != nil {
				return clierror.RemoteOperationFailure("", err)
			}
			emitter.Record(audit.NewConsentGranted(st.runID, st.req.ApplicationName, res.principal.ID, access.ID))
		}
	}

	// Mandatory settle: role assignments created just above may not be
	// visible to dependent reads yet. This wait is the run's only
	// synchronization primitive.
	settle := p.Settle
	if settle <= 0 {
		settle = DefaultSettleDuration
	}
	p.logger().Info("waiting for directory propagation", "run_id", st.runID, "settle", settle.String())
	select {
	case <-ctx.Done():
		return clierror.RemoteOperationFailure("", ctx.Err())
	case <-time.After(settle):
	}
	return nil
}

func (p *Provisioner) connectMailExtension(ctx context.Context, st *runState) *clierror.CLIError {
	domain := initialVerifiedDomain(st.org)
	if domain == "" {
		return clierror.ResourceNotFound("", "verified domain for tenant")
	}

	if err := p.Mail.ConnectAppOnly(ctx, st.app.AppID, domain); err != nil {
		return clierror.RemoteOperationFailure("", err)
	}
	p.emitter().Record(audit.NewExtension(audit.EventMailExtension, st.runID, st.req.ApplicationName,
		map[string]string{"domain": domain}))
	return nil
}

// initialVerifiedDomain returns the tenant's initial verified domain, falling
// back to any verified domain.
func initialVerifiedDomain(org *graph.Organization) string {
	var fallback string
	for _, d := range org.VerifiedDomains {
		if !d.IsVerified {
			continue
		}
		if d.IsInitial {
			return d.Name
		}
		if fallback == "" {
			fallback = d.Name
		}
	}
	return fallback
}

func (p *Provisioner) configureARMExtension(ctx context.Context, st *runState) *clierror.CLIError {
	if err := p.ARM.ElevateAccess(ctx); err != nil {
		return clierror.RemoteOperationFailure("", err)
	}

	scopes := []string{arm.RootScope, arm.IdentityProviderScope}
	for _, scope := range scopes {
		if err := p.ARM.CreateRoleAssignment(ctx, st.sp.ID, scope, "Reader"); err != nil {
			return clierror.RemoteOperationFailure("", err)
		}
	}
	p.emitter().Record(audit.NewExtension(audit.EventARMExtension, st.runID, st.req.ApplicationName,
		map[string]string{"role": "Reader", "scopes": fmt.Sprintf("%d", len(scopes))}))
	return nil
}

func (p *Provisioner) issueCredential(ctx context.Context, st *runState) *clierror.CLIError {
	start := p.clock()()
	end := start.AddDate(0, secretValidityMonths, 0)

	cred, err := p.Graph.AddPassword(ctx, st.app.ID, st.req.ApplicationName, start, end)
	if err != nil {
		return clierror.RemoteOperationFailure("", err)
	}
	if cred.SecretText == "" {
		return clierror.ConsistencyViolation("", "directory returned a credential without secret text")
	}
	st.secret = cred
	p.emitter().Record(audit.NewCredentialIssued(st.runID, st.req.ApplicationName, cred.EndDateTime))
	return nil
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Provisioner) emitter() *audit.RunEmitter {
	if p.Audit != nil {
		return p.Audit
	}
	return audit.NewRunEmitter(p.logger(), audit.NopEmitter{})
}

func (p *Provisioner) clock() func() time.Time {
	if p.now != nil {
		return p.now
	}
	return time.Now
}

func (p *Provisioner) reportProgress(progress RunProgress) {
	if p.Progress != nil {
		p.Progress(progress)
	}
}

// Run-history recording. Store failures are logged and ignored; the store is
// an observer, never a gate.

func (p *Provisioner) recordRunStart(st *runState) {
	if p.Store == nil {
		return
	}
	run := &store.Run{
		ID:        st.runID,
		AppName:   st.req.ApplicationName,
		Stage:     string(StageEnsureDependencies),
		StartedAt: p.clock()(),
	}
	if err := p.Store.CreateRun(run); err != nil {
		p.logger().Error("failed to record run start", "run_id", st.runID, "error", err)
	}
}

func (p *Provisioner) recordRunProgress(st *runState, stage Stage) {
	if p.Store == nil {
		return
	}
	run := &store.Run{ID: st.runID, Stage: string(stage)}
	if st.org != nil {
		run.TenantID = st.org.ID
	}
	if st.app != nil {
		run.ClientID = st.app.AppID
		run.ObjectID = st.app.ID
	}
	if st.sp != nil {
		run.SPObjectID = st.sp.ID
	}
	if err := p.Store.UpdateProgress(run); err != nil {
		p.logger().Error("failed to record run progress", "run_id", st.runID, "error", err)
	}
}

func (p *Provisioner) recordRunFinish(st *runState, status string, stage Stage, cause *clierror.CLIError) {
	if p.Store == nil {
		return
	}
	code, reason := "", ""
	if cause != nil {
		code, reason = cause.Code, cause.Message
	}
	if err := p.Store.FinishRun(st.runID, status, string(stage), code, reason); err != nil {
		p.logger().Error("failed to record run finish", "run_id", st.runID, "error", err)
	}
}
