package cmd

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openportal-labs/entraprov/pkg/graph"
)

func TestEndpointProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A 401 still proves the endpoint is reachable.
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	probe := endpointProbe(srv.URL)
	if err := probe(context.Background()); err != nil {
		t.Errorf("probe against live endpoint: %v", err)
	}

	srv.Close()
	if err := probe(context.Background()); err == nil {
		t.Error("probe against closed endpoint should fail")
	}
}

func TestNewDependencyChecker_ExtensionsAddDeps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := graph.StaticTokenSource("token")
	cfg := &Config{GraphURL: srv.URL, MailURL: srv.URL, ARMURL: srv.URL}

	tests := []struct {
		name     string
		mail     bool
		arm      bool
		wantDeps int
	}{
		{"base", false, false, 2},
		{"mail", true, false, 3},
		{"arm", false, true, 3},
		{"both", true, true, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := newDependencyChecker(logger, cfg, tokens, tt.mail, tt.arm)
			checker.Run(context.Background())
			if got := len(checker.Results()); got != tt.wantDeps {
				t.Errorf("checker has %d dependencies, want %d", got, tt.wantDeps)
			}
		})
	}
}
