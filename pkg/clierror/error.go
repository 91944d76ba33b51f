// Package clierror provides structured errors for CLI output with codes,
// exit codes, and remediation hints.
package clierror

import (
	"encoding/json"
	"fmt"
	"os"
)

// Exit codes returned by the entraprov binary.
const (
	ExitSuccess     = 0 // Operation completed successfully
	ExitGeneral     = 1 // Unknown/unhandled error
	ExitAuth        = 2 // Cannot establish or use a session
	ExitPrivilege   = 3 // Acting principal lacks an administrative role
	ExitNotFound    = 4 // Tenant/domain/role lookup returned nothing
	ExitConsistency = 5 // Read-back after write did not match
	ExitDependency  = 6 // Required collaborator missing or unreachable
)

// Error codes (strings) for programmatic error handling
const (
	CodeDependencyUnavailable  = "DEPENDENCY_UNAVAILABLE"
	CodeAuthenticationFailure  = "AUTHENTICATION_FAILURE"
	CodePrivilegeDenied        = "PRIVILEGE_DENIED"
	CodeConsistencyViolation   = "CONSISTENCY_VIOLATION"
	CodeResourceNotFound       = "RESOURCE_NOT_FOUND"
	CodeRemoteOperationFailure = "REMOTE_OPERATION_FAILURE"
	CodeInternalError          = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code"`
	Stage     string `json:"stage,omitempty"` // provisioning stage that failed
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	ExitCode  int    `json:"-"` // Not serialized, used for os.Exit
	cause     error
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *CLIError) Unwrap() error {
	return e.cause
}

// WithHint attaches a troubleshooting hint and returns the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// DependencyUnavailable creates an error for a missing or unreachable collaborator.
func DependencyUnavailable(stage, name string, cause error) *CLIError {
	return &CLIError{
		Code:      CodeDependencyUnavailable,
		Stage:     stage,
		Message:   fmt.Sprintf("required dependency '%s' is unavailable", name),
		Hint:      "Verify the endpoint URL in ~/.config/entraprov/config.yaml and network connectivity",
		Retryable: true,
		ExitCode:  ExitDependency,
		cause:     cause,
	}
}

// AuthenticationFailure creates an error for a session that cannot be established.
func AuthenticationFailure(stage string, cause error) *CLIError {
	msg := "cannot establish an authenticated session"
	if cause != nil {
		msg = fmt.Sprintf("cannot establish an authenticated session: %s", cause.Error())
	}
	return &CLIError{
		Code:      CodeAuthenticationFailure,
		Stage:     stage,
		Message:   msg,
		Hint:      "Set ENTRAPROV_TOKEN to a valid directory access token",
		Retryable: true,
		ExitCode:  ExitAuth,
		cause:     cause,
	}
}

// PrivilegeDenied creates an error when the acting principal fails the privilege gate.
func PrivilegeDenied(stage, principal string) *CLIError {
	return &CLIError{
		Code:      CodePrivilegeDenied,
		Stage:     stage,
		Message:   fmt.Sprintf("principal '%s' holds none of the required administrative roles", principal),
		Hint:      "Global Administrator, Application Administrator, or Cloud Application Administrator is required",
		Retryable: false,
		ExitCode:  ExitPrivilege,
	}
}

// ConsistencyViolation creates an error when a read-back after a write did not match.
func ConsistencyViolation(stage, detail string) *CLIError {
	return &CLIError{
		Code:      CodeConsistencyViolation,
		Stage:     stage,
		Message:   fmt.Sprintf("consistency check failed: %s", detail),
		Hint:      "The directory may be lagging; inspect the tenant and re-run",
		Retryable: true,
		ExitCode:  ExitConsistency,
	}
}

// ResourceNotFound creates an error when a directory lookup returned nothing.
func ResourceNotFound(stage, resource string) *CLIError {
	return &CLIError{
		Code:      CodeResourceNotFound,
		Stage:     stage,
		Message:   fmt.Sprintf("%s not found", resource),
		Retryable: false,
		ExitCode:  ExitNotFound,
	}
}

// RemoteOperationFailure creates an error for a failed remote API call.
func RemoteOperationFailure(stage string, cause error) *CLIError {
	msg := "remote operation failed"
	if cause != nil {
		msg = fmt.Sprintf("remote operation failed: %s", cause.Error())
	}
	return &CLIError{
		Code:      CodeRemoteOperationFailure,
		Stage:     stage,
		Message:   msg,
		Retryable: true,
		ExitCode:  ExitGeneral,
		cause:     cause,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:      CodeInternalError,
		Message:   msg,
		Retryable: false,
		ExitCode:  ExitGeneral,
		cause:     err,
	}
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json" for JSON output, anything else for human-readable format.
func FormatError(err *CLIError, outputFormat string) string {
	if outputFormat == "json" {
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			// Fallback to simple JSON if marshaling fails
			return fmt.Sprintf(`{"code":"%s","message":"%s"}`, err.Code, err.Message)
		}
		return string(data)
	}

	output := fmt.Sprintf("Error [%s]", err.Code)
	if err.Stage != "" {
		output += fmt.Sprintf(" at stage %s", err.Stage)
	}
	output += fmt.Sprintf(": %s", err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// PrintError prints the error to stderr in the appropriate format.
func PrintError(err *CLIError, outputFormat string) {
	fmt.Fprintln(os.Stderr, FormatError(err, outputFormat))
}
