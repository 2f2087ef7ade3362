package parser

import (
	"encoding/base64"
	"strings"
	"testing"
)

func decodeIcon(t *testing.T, icon string) string {
	t.Helper()
	const prefix = "data:image/svg+xml;base64,"
	if !strings.HasPrefix(icon, prefix) {
		t.Fatalf("Icon is not a base64 SVG data URL: %q", icon)
	}
	svg, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(icon, prefix))
	if err != nil {
		t.Fatalf("Failed to decode icon: %v", err)
	}
	return string(svg)
}

func TestGenerateRouteIcon(t *testing.T) {
	tests := []struct {
		name           string
		routeID        string
		expectContains []string
	}{
		{
			name:           "red line",
			routeID:        "1",
			expectContains: []string{"<svg", "#EE352E", ">1<", `fill="white"`},
		},
		{
			name:           "broadway line uses dark text",
			routeID:        "q",
			expectContains: []string{"#FCCC0A", ">Q<", `fill="black"`},
		},
		{
			name:           "long label shrinks font",
			routeID:        "SIR",
			expectContains: []string{`font-size="9"`, ">SIR<"},
		},
		{
			name:           "unknown route hashes a hue",
			routeID:        "X27",
			expectContains: []string{"hsl("},
		},
	}

	g := NewRouteIconGenerator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svg := decodeIcon(t, g.GenerateRouteIcon(tt.routeID))
			for _, want := range tt.expectContains {
				if !strings.Contains(svg, want) {
					t.Errorf("SVG should contain %q, got:\n%s", want, svg)
				}
			}
		})
	}
}

func TestGenerateRouteIcon_Cached(t *testing.T) {
	g := NewRouteIconGenerator()
	first := g.GenerateRouteIcon("L")
	second := g.GenerateRouteIcon(" l ")
	if first != second {
		t.Error("Expected normalized route ids to share a cached icon")
	}
}

func TestRouteColor_StableForUnknownRoutes(t *testing.T) {
	if RouteColor("B44") != RouteColor("B44") {
		t.Error("RouteColor should be deterministic")
	}
	if RouteColor("a") != "#0039A6" {
		t.Errorf("RouteColor(a) = %q, want %q", RouteColor("a"), "#0039A6")
	}
}
