// Package render turns a diagnosis report into text for humans or JSON for
// tools.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"dbdoctor/internal/diag"
	"dbdoctor/internal/diagnose"

	"github.com/charmbracelet/lipgloss"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("render: unknown format %q", s)
}

// Write renders rep to w in format f.
func Write(w io.Writer, f Format, rep diagnose.Report) error {
	if f == FormatJSON {
		return JSON(w, rep)
	}
	return Text(w, rep)
}

func JSON(w io.Writer, rep diagnose.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// Text writes a human-readable report. Colour is used only when w is a
// terminal that supports it.
func Text(w io.Writer, rep diagnose.Report) error {
	st := newStyles(lipgloss.NewRenderer(w))
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", st.title.Render("dbdoctor"), st.muted.Render("run "+rep.RunID))
	fmt.Fprintf(&b, "target: %s (%s)\n\n", rep.Target, rep.TargetKind)

	b.WriteString(st.section.Render("Connection attempts") + "\n")
	if len(rep.Attempts) == 0 {
		b.WriteString(st.muted.Render("  none") + "\n")
	}
	for i, a := range rep.Attempts {
		mark, detail := outcomeMark(st, a.Outcome), a.Kind.String()
		if a.OK() {
			detail = "connected"
			if a.ServerInfo != nil {
				detail = fmt.Sprintf("connected as %s to %s (%s)", a.ServerInfo.UserName, a.ServerInfo.DatabaseName, a.ServerInfo.ShortVersion())
			}
		}
		fmt.Fprintf(&b, "  %2d. %s %s tls=%s %s %s\n", i+1, mark, a.Descriptor.Redacted(), a.Descriptor.TLS(), detail, st.muted.Render(round(a.Duration).String()))
		if !a.OK() && a.RawMessage != "" {
			fmt.Fprintf(&b, "      %s\n", st.muted.Render(a.RawMessage))
		}
	}

	if rep.Resolved != nil {
		fmt.Fprintf(&b, "\nresolved: %s (tls=%s, sslmode=%s)\n", rep.Resolved.Redacted(), rep.Resolved.TLS(), rep.Resolved.TLS().SSLMode())
	}

	if rep.Health != nil {
		b.WriteString("\n" + st.section.Render("Health checks") + "\n")
		for _, p := range rep.Health.Phases {
			line := fmt.Sprintf("  %s %-12s %s", outcomeMark(st, p.Outcome), p.Phase, p.Message)
			if p.Outcome == diag.Failure {
				line += " " + st.fail.Render("["+p.Kind.String()+"]")
			}
			b.WriteString(line + "\n")
		}
		if s := rep.Health.Schema; s != nil {
			fmt.Fprintf(&b, "\n  tables in %s: %s\n", s.Schema, strings.Join(s.Existing, ", "))
			if len(s.Missing) > 0 {
				fmt.Fprintf(&b, "  %s %s\n", st.fail.Render("missing:"), strings.Join(s.Missing, ", "))
			}
		}
		if len(rep.Health.Counts) > 0 {
			b.WriteString("\n  row counts:\n")
			for _, c := range rep.Health.Counts {
				switch {
				case c.Missing:
					fmt.Fprintf(&b, "    %-24s %s\n", c.Table, st.fail.Render("missing"))
				case !c.OK():
					fmt.Fprintf(&b, "    %-24s %s\n", c.Table, st.fail.Render(c.Error))
				default:
					fmt.Fprintf(&b, "    %-24s %d\n", c.Table, c.Rows)
				}
			}
		}
	}

	b.WriteString("\n")
	if rep.Connected {
		b.WriteString(st.ok.Render("OK: connection verified") + "\n")
	} else {
		b.WriteString(st.fail.Render("FAILED: "+rep.Dominant.String()) + "\n")
		if len(rep.Remediation) > 0 {
			b.WriteString(st.box.Render(strings.Join(rep.Remediation, "\n")) + "\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func outcomeMark(st styles, o diag.Outcome) string {
	switch o {
	case diag.Success:
		return st.ok.Render("✔")
	case diag.Skipped:
		return st.skip.Render("-")
	}
	return st.fail.Render("✘")
}

func round(d time.Duration) time.Duration {
	if d > time.Second {
		return d.Round(10 * time.Millisecond)
	}
	return d.Round(time.Millisecond)
}
