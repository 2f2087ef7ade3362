package dashboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"transithub/pkg/favorites"
	"transithub/pkg/loki"
	"transithub/pkg/session"
	"transithub/pkg/types"
)

type Screen int

const (
	ScreenChecking Screen = iota
	ScreenAuthenticated
	ScreenAnonymous
)

func (s Screen) String() string {
	switch s {
	case ScreenAuthenticated:
		return "authenticated"
	case ScreenAnonymous:
		return "anonymous"
	default:
		return "checking"
	}
}

// ScreenFor picks the screen for a session state.
func ScreenFor(s session.State) Screen {
	switch s.Status {
	case session.StatusAuthenticated:
		return ScreenAuthenticated
	case session.StatusAnonymous:
		return ScreenAnonymous
	default:
		return ScreenChecking
	}
}

// View is a consistent read of every panel. Each panel carries its own
// loading flag and error text.
type View struct {
	Screen   Screen
	Identity *types.Identity

	Snapshot      *types.FeedSnapshot
	Markers       []types.Marker
	StatusLoading bool
	StatusErr     string
	UpdatedAt     time.Time

	Outages        types.Outages
	OutagesLoading bool
	OutagesErr     string

	Routes   favorites.State[types.RouteID]
	Stations favorites.State[types.StationID]
}

func (d *Dashboard) View() View {
	sess := d.session.State()
	status := d.status.State()
	outages := d.outages.State()

	v := View{
		Screen:        ScreenFor(sess),
		Identity:      sess.Identity,
		Snapshot:      status.Data,
		Markers:       d.projector.Markers(status.Data),
		StatusLoading: status.Loading,
		StatusErr:     status.Err,
		UpdatedAt:     status.UpdatedAt,

		OutagesLoading: outages.Loading,
		OutagesErr:     outages.Err,
	}
	if outages.Data != nil {
		v.Outages = *outages.Data
	}
	if v.Screen == ScreenAuthenticated {
		v.Routes = d.routes.State()
		v.Stations = d.stations.State()
	}
	return v
}

// Render writes v as text panels. A failing panel prints its error inline and
// never hides the others.
func Render(w io.Writer, v View) error {
	var b bytes.Buffer

	fmt.Fprintf(&b, "\n=== DRY RUN - Transit Hub (%s) ===\n", v.Screen)
	if v.Identity != nil {
		fmt.Fprintf(&b, "Signed in as: %s\n", identityLabel(v.Identity))
	}

	b.WriteString("\n--- Status ---\n")
	panelState(&b, v.StatusLoading, v.StatusErr)
	if v.Snapshot != nil {
		fmt.Fprintf(&b, "Feed: %s  Timestamp: %s\n", v.Snapshot.FeedID,
			time.Unix(v.Snapshot.Timestamp, 0).UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "Trip updates: %d  Markers: %d\n", len(v.Snapshot.TripUpdates), len(v.Markers))

		if len(v.Markers) > 0 {
			b.WriteString("\nMarker Summary:\n")
			for i, m := range v.Markers {
				fmt.Fprintf(&b, "  %d. [%s] %s at %s, ETA %s (%.6f, %.6f)\n",
					i+1, m.RouteID, m.Key, m.StopLabel, m.ETALocalTime, m.Position.Lat, m.Position.Lon)
			}

			b.WriteString("\nIndividual Log Lines (as sent to Loki):\n")
			b.WriteString("----------------------------------------\n")
			for i, m := range v.Markers {
				// Icons make lines unreadable on a terminal.
				m.Icon = ""
				line, err := loki.MarkerLine(v.Snapshot, m)
				if err != nil {
					return fmt.Errorf("failed to marshal marker JSON for dry run: %w", err)
				}
				fmt.Fprintf(&b, "Log Line %d: %s\n", i+1, line)
			}
		}
	}

	b.WriteString("\n--- Alerts ---\n")
	if v.Snapshot != nil {
		if len(v.Snapshot.Alerts) == 0 {
			b.WriteString("No active alerts\n")
		}
		for _, a := range v.Snapshot.Alerts {
			fmt.Fprintf(&b, "  * %s\n", a.Header)
			if a.Description != "" {
				fmt.Fprintf(&b, "    %s\n", strings.ReplaceAll(a.Description, "\n", "\n    "))
			}
		}
	}

	b.WriteString("\n--- Accessibility Outages ---\n")
	panelState(&b, v.OutagesLoading, v.OutagesErr)
	for _, rec := range v.Outages {
		var compact bytes.Buffer
		if err := json.Compact(&compact, rec); err != nil {
			compact.Write(rec)
		}
		fmt.Fprintf(&b, "  %s\n", compact.String())
	}

	if v.Screen == ScreenAuthenticated {
		renderFavorites(&b, "Favorite Routes", v.Routes)
		renderFavorites(&b, "Favorite Stations", v.Stations)
	} else {
		b.WriteString("\nSign in to manage favorite routes and stations.\n")
	}

	b.WriteString("=== END DRY RUN ===\n")
	_, err := w.Write(b.Bytes())
	return err
}

func identityLabel(id *types.Identity) string {
	if id.Email != "" {
		return id.Email
	}
	return id.UID
}

func panelState(b *bytes.Buffer, loading bool, errText string) {
	if loading {
		b.WriteString("(loading)\n")
	}
	if errText != "" {
		fmt.Fprintf(b, "Error: %s\n", errText)
	}
}

func renderFavorites[T ~string](b *bytes.Buffer, title string, st favorites.State[T]) {
	fmt.Fprintf(b, "\n--- %s ---\n", title)
	panelState(b, st.Loading, st.FetchErr)
	if len(st.Items) == 0 && !st.Loading {
		b.WriteString("None\n")
	}
	for _, id := range st.Items {
		fmt.Fprintf(b, "  %s\n", id)
	}
	if st.AddErr != "" {
		fmt.Fprintf(b, "Add error: %s\n", st.AddErr)
	}
	if st.RemoveErr != "" {
		fmt.Fprintf(b, "Remove error: %s\n", st.RemoveErr)
	}
}
