package graph

import (
	"context"
	"fmt"
	"os"
)

// TokenSource supplies bearer tokens for directory API calls. The CLI is
// handed an already-issued token; acquiring one (device code, client
// credentials) is outside this tool.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same token on every call.
type StaticTokenSource string

// Token returns the static token.
func (s StaticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty access token")
	}
	return string(s), nil
}

// EnvTokenSource reads the token from an environment variable on every call,
// so a long run picks up a refreshed token without restarting.
type EnvTokenSource string

// Token returns the current value of the environment variable.
func (s EnvTokenSource) Token(context.Context) (string, error) {
	tok := os.Getenv(string(s))
	if tok == "" {
		return "", fmt.Errorf("environment variable %s is not set", string(s))
	}
	return tok, nil
}
