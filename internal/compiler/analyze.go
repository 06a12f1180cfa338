package compiler

import (
	"fmt"
	"net/url"
	"strings"
)

// Severity of a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Diagnostic is one analysis finding, tied to a source location.
type Diagnostic struct {
	Severity Severity
	Message  string
	Hint     string
	Prov     Provenance
}

func (d Diagnostic) String() string {
	level := "warning"
	if d.Severity == SeverityError {
		level = "error"
	}
	return fmt.Sprintf("%s:%d: %s: %s", d.Prov.File, d.Prov.Line, level, d.Message)
}

// Analyze checks a parsed program for semantic problems the parser cannot
// see. It never mutates the program.
func Analyze(p *Program) []Diagnostic {
	var diags []Diagnostic

	report := func(sev Severity, prov Provenance, format string, args ...any) {
		diags = append(diags, Diagnostic{Severity: sev, Prov: prov, Message: fmt.Sprintf(format, args...)})
	}

	var walk func(nodes []*Node, inServer bool)
	walk = func(nodes []*Node, inServer bool) {
		for _, n := range nodes {
			switch n.Kind {
			case KindImport:
				if len(n.ImportNames) == 0 {
					report(SeverityWarning, n.Prov, "import from %q names no symbols", n.Target)
				}
			case KindType:
				seen := map[string]bool{}
				for _, v := range n.Variants {
					if seen[v.Name] {
						report(SeverityError, n.Prov, "type '%s' declares variant '%s' twice", n.Name, v.Name)
					}
					seen[v.Name] = true
				}
			case KindRoute:
				if !strings.HasPrefix(n.RoutePath, "/") {
					report(SeverityError, n.Prov, "route path %q must start with '/'", n.RoutePath)
				}
			case KindRouteGroup:
				if !strings.HasPrefix(n.RoutePath, "/") {
					report(SeverityError, n.Prov, "route group prefix %q must start with '/'", n.RoutePath)
				}
				walk(n.Body, inServer)
			case KindDiscover:
				if u, err := url.Parse(n.Target); err != nil || u.Scheme == "" || u.Host == "" {
					report(SeverityError, n.Prov, "discover target %q is not an absolute URL", n.Target)
				}
			case KindServerBlock:
				if len(n.Body) == 0 {
					report(SeverityWarning, n.Prov, "server block %s is empty", blockLabel(n))
				}
				walk(n.Body, true)
			case KindClientBlock, KindSharedBlock:
				walk(n.Body, false)
			case KindFunc:
				if len(n.Lines) == 0 {
					report(SeverityWarning, n.Prov, "function '%s' has an empty body", n.Name)
				}
			}
		}
	}
	walk(p.Nodes, false)

	return diags
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func blockLabel(n *Node) string {
	if n.BlockName == "" {
		return "(default)"
	}
	return fmt.Sprintf("%q", n.BlockName)
}
