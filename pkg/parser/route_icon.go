package parser

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
)

// routeColors are the MTA trunk line colors.
var routeColors = map[string]string{
	"1": "#EE352E", "2": "#EE352E", "3": "#EE352E",
	"4": "#00933C", "5": "#00933C", "6": "#00933C", "6X": "#00933C",
	"7": "#B933AD", "7X": "#B933AD",
	"A": "#0039A6", "C": "#0039A6", "E": "#0039A6",
	"B": "#FF6319", "D": "#FF6319", "F": "#FF6319", "FX": "#FF6319", "M": "#FF6319",
	"G": "#6CBE45",
	"J": "#996633", "Z": "#996633",
	"L": "#A7A9AC",
	"N": "#FCCC0A", "Q": "#FCCC0A", "R": "#FCCC0A", "W": "#FCCC0A",
	"S": "#808183", "GS": "#808183", "FS": "#808183", "H": "#808183",
	"SI": "#0039A6", "SIR": "#0039A6",
}

// darkTextRoutes use black text on their yellow bullet.
var darkTextRoutes = map[string]bool{"N": true, "Q": true, "R": true, "W": true}

// RouteIconGenerator renders base64-encoded SVG route bullets for map markers.
type RouteIconGenerator struct {
	mu    sync.Mutex
	cache map[string]string
}

func NewRouteIconGenerator() *RouteIconGenerator {
	return &RouteIconGenerator{cache: make(map[string]string)}
}

// RouteColor returns the line color for a route, or a stable hashed hue for
// routes outside the known palette.
func RouteColor(routeID string) string {
	if color, ok := routeColors[strings.ToUpper(routeID)]; ok {
		return color
	}

	hash := 0
	for _, char := range routeID {
		hash = int(char) + ((hash << 5) - hash)
	}
	hue := (hash%360 + 360) % 360
	return fmt.Sprintf("hsl(%d, 70%%, 50%%)", hue)
}

// GenerateRouteIcon returns a data URL with a circular bullet for routeID.
func (g *RouteIconGenerator) GenerateRouteIcon(routeID string) string {
	label := strings.ToUpper(strings.TrimSpace(routeID))

	g.mu.Lock()
	defer g.mu.Unlock()
	if icon, ok := g.cache[label]; ok {
		return icon
	}

	textColor := "white"
	if darkTextRoutes[label] {
		textColor = "black"
	}
	fontSize := 14
	if len(label) > 2 {
		fontSize = 9
	}

	svg := fmt.Sprintf(`<svg width="28" height="28" xmlns="http://www.w3.org/2000/svg">
  <circle cx="14" cy="14" r="13" fill="%s" stroke="white" stroke-width="1"/>
  <text x="14" y="19" font-family="Helvetica, Arial, sans-serif" font-size="%d" font-weight="bold" fill="%s" text-anchor="middle">%s</text>
</svg>`, RouteColor(label), fontSize, textColor, escapeXML(label))

	icon := "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
	g.cache[label] = icon
	return icon
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
