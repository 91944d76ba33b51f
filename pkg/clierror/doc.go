// Package clierror provides structured error handling for CLI commands.
//
// CLI errors carry an error code, exit code, the provisioning stage that
// failed, a user-facing message, and optional troubleshooting hints. This
// separates internal error details from what gets displayed to operators.
//
// # Usage
//
//	if err != nil {
//	    return clierror.RemoteOperationFailure("CreateApplication", err).
//	        WithHint("Check that the access token has Application.ReadWrite.All")
//	}
package clierror
