// Package depcheck models pre-flight checks for the remote collaborators a
// provisioning run depends on. Each dependency is probed exactly once, before
// any mutating stage, and the recorded state is consulted afterwards.
package depcheck

import (
	"context"
	"fmt"
	"log/slog"
)

// State describes what a probe learned about a dependency.
type State int

const (
	// StateUnknown means the dependency has not been probed yet.
	StateUnknown State = iota
	// StateMissing means the probe ran and the dependency is unreachable or
	// refused the session.
	StateMissing
	// StateAvailable means the probe succeeded.
	StateAvailable
)

// String returns the human-readable name for a state.
func (s State) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateAvailable:
		return "available"
	default:
		return "unknown"
	}
}

// Probe checks one dependency. A nil return marks it available.
type Probe func(ctx context.Context) error

// Dependency is one collaborator the run needs.
type Dependency struct {
	Name     string
	Optional bool // optional dependencies may be missing without failing verification
	Probe    Probe
}

// Result is the outcome of probing one dependency.
type Result struct {
	Name     string
	Optional bool
	State    State
	Err      error
}

// Checker probes a fixed set of dependencies once and remembers the outcome.
type Checker struct {
	deps    []Dependency
	results []Result
	logger  *slog.Logger
}

// NewChecker creates a checker for the given dependencies. If logger is nil,
// slog.Default() is used.
func NewChecker(logger *slog.Logger, deps ...Dependency) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{deps: deps, logger: logger}
}

// Run probes every dependency that has not been probed yet. Probe errors are
// recorded, not returned; call Verify to enforce availability.
func (c *Checker) Run(ctx context.Context) {
	if c.results != nil {
		return
	}
	c.results = make([]Result, 0, len(c.deps))
	for _, d := range c.deps {
		res := Result{Name: d.Name, Optional: d.Optional, State: StateAvailable}
		if err := d.Probe(ctx); err != nil {
			res.State = StateMissing
			res.Err = err
			c.logger.Warn("dependency probe failed", "dependency", d.Name, "optional", d.Optional, "error", err)
		} else {
			c.logger.Debug("dependency probe succeeded", "dependency", d.Name)
		}
		c.results = append(c.results, res)
	}
}

// Results returns the recorded probe outcomes. Empty until Run is called.
func (c *Checker) Results() []Result {
	return c.results
}

// Verify returns an error naming the first required dependency that is not
// available. Optional dependencies never fail verification.
func (c *Checker) Verify() error {
	if c.results == nil {
		return fmt.Errorf("dependencies have not been probed")
	}
	for _, r := range c.results {
		if r.Optional {
			continue
		}
		if r.State != StateAvailable {
			return fmt.Errorf("dependency %s is %s: %w", r.Name, r.State, r.Err)
		}
	}
	return nil
}
