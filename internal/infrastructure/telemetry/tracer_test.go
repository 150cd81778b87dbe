package telemetry

import (
	"strings"
	"testing"
)

func TestExporterTarget(t *testing.T) {
	tests := []struct {
		endpoint     string
		wantHost     string
		wantInsecure bool
	}{
		{"http://jaeger:4318", "jaeger:4318", true},
		{"http://localhost:4318/v1/traces", "localhost:4318", true},
		{"https://otel.example.com/", "otel.example.com", false},
		{"collector:4318", "collector:4318", true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			host, insecure := exporterTarget(tt.endpoint)
			if host != tt.wantHost || insecure != tt.wantInsecure {
				t.Errorf("exporterTarget(%q) = (%q, %v), want (%q, %v)", tt.endpoint, host, insecure, tt.wantHost, tt.wantInsecure)
			}
		})
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		desc := sampler(tt.ratio).Description()
		if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, "root:"+tt.want) {
			t.Errorf("sampler(%v) = %q, want ParentBased with root %s", tt.ratio, desc, tt.want)
		}
	}
}
