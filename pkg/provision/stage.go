package provision

// Stage names one step of the provisioning workflow. Stage names appear in
// errors, audit events, and the run-history store.
type Stage string

const (
	StageEnsureDependencies Stage = "EnsureDependencies"
	StageVerifyDependencies Stage = "VerifyDependencies"
	StageConnect            Stage = "Connect"
	StageVerifyTenant       Stage = "VerifyTenant"
	StageCheckPrivilege     Stage = "CheckPrivilege"
	StageCreateApplication  Stage = "CreateApplication"
	StageAssignPermissions  Stage = "AssignPermissions"
	StageGrantConsent       Stage = "GrantConsent"
	StageConnectMail        Stage = "ConnectMailExtension"
	StageConfigureARM       Stage = "ConfigureResourceMgmtExtension"
	StageIssueCredential    Stage = "IssueCredential"
	StageDone               Stage = "Done"
)

// RunProgress reports where a run is. Current is 1-based: the stage about to
// execute. Total reflects the stages this run will actually execute, so
// skipped optional stages never inflate the denominator.
type RunProgress struct {
	Current int
	Total   int
	Stage   Stage
}

// Percent returns completion as an integer percentage, clamped to [0, 100].
func (p RunProgress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	pct := (p.Current * 100) / p.Total
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// ProgressFunc receives progress updates as stages begin. The orchestrator
// owns the call sequence; receivers must not block.
type ProgressFunc func(RunProgress)
