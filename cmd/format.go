package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/screening"
)

// maxTextCandidates caps the candidate rows in text output.
const maxTextCandidates = 5

// textFormatter renders a screening response for terminals.
type textFormatter struct {
	colors map[model.RiskLevel]*color.Color
	label  *color.Color
	dim    *color.Color
}

func newTextFormatter(noColor bool) *textFormatter {
	if noColor {
		color.NoColor = true
	}
	return &textFormatter{
		colors: map[model.RiskLevel]*color.Color{
			model.RiskHigh:   color.New(color.FgRed, color.Bold),
			model.RiskMedium: color.New(color.FgYellow, color.Bold),
			model.RiskLow:    color.New(color.FgGreen),
			model.RiskSkip:   color.New(color.FgCyan),
		},
		label: color.New(color.FgWhite, color.Bold),
		dim:   color.New(color.FgBlue),
	}
}

func (f *textFormatter) risk(r model.RiskLevel) string {
	if c, ok := f.colors[r]; ok {
		return c.Sprint(r)
	}
	return string(r)
}

// Format renders resp.
func (f *textFormatter) Format(resp *screening.Response) string {
	var b strings.Builder
	d := resp.Decision

	fmt.Fprintf(&b, "%s %s  score=%.3f", f.label.Sprint("Risk:"), f.risk(d.Risk), d.Score)
	if d.ReviewRequired {
		b.WriteString("  " + f.colors[model.RiskMedium].Sprint("review required"))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s  snapshot=%d  %dms\n", f.dim.Sprint("Request:"), resp.RequestID, resp.SnapshotVersion, resp.DurationMs)

	if len(d.Reasons) > 0 {
		b.WriteString(f.label.Sprint("Reasons:") + "\n")
		for _, r := range d.Reasons {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}
	if len(d.RequiredAdditionalFields) > 0 {
		fmt.Fprintf(&b, "%s %s\n", f.label.Sprint("Needs:"), strings.Join(d.RequiredAdditionalFields, ", "))
	}

	if len(resp.Candidates) == 0 {
		b.WriteString("No candidates.\n")
	} else {
		b.WriteString(f.label.Sprint("Candidates:") + "\n")
		for i, c := range resp.Candidates {
			if i == maxTextCandidates {
				fmt.Fprintf(&b, "  ... %d more\n", len(resp.Candidates)-maxTextCandidates)
				break
			}
			fmt.Fprintf(&b, "  %-12s %-30s %.3f  %s\n", c.EntityID, c.NormalizedName, c.FusedScore, matchedBy(c))
		}
	}

	for _, p := range resp.Persons {
		fmt.Fprintf(&b, "%s %s (%.2f)%s\n", f.label.Sprint("Person:"), p.FullName, p.Confidence, identifiers(p.Identifiers))
	}
	for _, o := range resp.Organizations {
		fmt.Fprintf(&b, "%s %s (%.2f)%s\n", f.label.Sprint("Organization:"), o.FullName, o.Confidence, identifiers(o.Identifiers))
	}
	if len(resp.UnlinkedIdentifiers) > 0 {
		fmt.Fprintf(&b, "%s%s\n", f.label.Sprint("Unlinked:"), identifiers(resp.UnlinkedIdentifiers))
	}
	return b.String()
}

func matchedBy(c model.Candidate) string {
	parts := make([]string, 0, len(c.MatchedBy))
	for _, s := range c.MatchedBy {
		parts = append(parts, string(s))
	}
	out := strings.Join(parts, "+")
	if c.MatchedTier != nil {
		out += fmt.Sprintf(" tier=%d", *c.MatchedTier)
	}
	return out
}

func identifiers(ids []model.LinkedIdentifier) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		v := fmt.Sprintf("%s=%s", id.Kind, id.NormalizedValue)
		if !id.IsValid {
			v += "(invalid)"
		}
		parts = append(parts, v)
	}
	return "  " + strings.Join(parts, " ")
}
