package bootstrap

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kbukum/localchat/component"
)

// Summary prints what came up at startup: infrastructure, routes and live
// health, all discovered from the component registry.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	out             io.Writer
	notes           []string
}

// NewSummary creates a summary that writes to out.
func NewSummary(serviceName, version string, out io.Writer) *Summary {
	return &Summary{serviceName: serviceName, version: version, out: out}
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// AddNote adds a free-form line, e.g. the active busy policy.
func (s *Summary) AddNote(format string, args ...any) {
	s.notes = append(s.notes, fmt.Sprintf(format, args...))
}

// Display writes the summary.
func (s *Summary) Display(ctx context.Context, registry *component.Registry) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s %s started in %.2fs\n", s.serviceName, s.version, s.startupDuration.Seconds())

	var infra []component.Description
	var routes []component.Route
	var health []component.Health
	if registry != nil {
		for _, c := range registry.All() {
			if d, ok := c.(component.Describable); ok {
				desc := d.Describe()
				if desc.Name == "" {
					desc.Name = c.Name()
				}
				infra = append(infra, desc)
			}
			if rp, ok := c.(component.RouteProvider); ok {
				routes = append(routes, rp.Routes()...)
			}
		}
		health = registry.HealthAll(ctx)
	}

	if len(infra) > 0 {
		b.WriteString("\nInfrastructure\n")
		for i, d := range infra {
			fmt.Fprintf(&b, "   %s %s [%s]: %s\n", branch(i, len(infra)), d.Name, d.Type, d.Details)
		}
	}

	if len(routes) > 0 {
		fmt.Fprintf(&b, "\nRoutes (%d)\n", len(routes))
		for i, r := range routes {
			fmt.Fprintf(&b, "   %s %-7s %s -> %s\n", branch(i, len(routes)), r.Method, r.Path, r.Handler)
		}
	}

	if len(health) > 0 {
		b.WriteString("\nHealth\n")
		for i, h := range health {
			msg := ""
			if h.Message != "" {
				msg = " (" + h.Message + ")"
			}
			fmt.Fprintf(&b, "   %s %s: %s%s\n", branch(i, len(health)), h.Name, h.Status, msg)
		}
	}

	if len(s.notes) > 0 {
		b.WriteString("\nNotes\n")
		for i, n := range s.notes {
			fmt.Fprintf(&b, "   %s %s\n", branch(i, len(s.notes)), n)
		}
	}

	b.WriteString("\n")
	_, _ = io.WriteString(s.out, b.String())
}

func branch(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}
