package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			"UUID replacement",
			"/links/550e8400-e29b-41d4-a716-446655440000/stats",
			"/links/:id/stats",
		},
		{
			"ObjectID replacement",
			"/links/507f1f77bcf86cd799439011/stats",
			"/links/:id/stats",
		},
		{
			"numeric ID replacement",
			"/links/12345",
			"/links/:id",
		},
		{
			"no change for slug path",
			"/links/abcXYZ",
			"/links/abcXYZ",
		},
		{
			"multiple UUIDs",
			"/users/550e8400-e29b-41d4-a716-446655440000/links/660e8400-e29b-41d4-a716-446655440001",
			"/users/:id/links/:id",
		},
		{
			"root path unchanged",
			"/",
			"/",
		},
		{
			"health endpoint unchanged",
			"/health",
			"/health",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizePath(tt.path)
			if got != tt.want {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		want    string
	}{
		{"mux pattern wins", "GET /{id}", "/abc123", "GET /{id}"},
		{"root", "", "/", "/"},
		{"normalized id", "", "/api/links/12345", "/api/links/:id"},
		{"unmatched path", "", "/wp-admin", unmatchedRoute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Pattern = tt.pattern
			if got := routeLabel(req); got != tt.want {
				t.Errorf("routeLabel = %q, want %q", got, tt.want)
			}
		})
	}
}
