package mail

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openportal-labs/entraprov/pkg/graph"
)

func TestConnectAppOnly(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{"session accepted", http.StatusOK, false},
		{"unauthorized", http.StatusUnauthorized, true},
		{"forbidden before propagation", http.StatusForbidden, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				if r.Header.Get("Authorization") != "Bearer tok" {
					t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
				}
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL, graph.StaticTokenSource("tok"))
			err := client.ConnectAppOnly(context.Background(), "app-1", "contoso.example")

			if (err != nil) != tt.wantErr {
				t.Errorf("ConnectAppOnly() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(gotPath, "contoso.example") {
				t.Errorf("request path %q should address the organization", gotPath)
			}
		})
	}
}
