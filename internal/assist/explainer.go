package assist

import (
	"context"
	"fmt"
	"strings"
)

// systemPrompt frames every request. The model sees position data from
// a recorded execution, never a live process.
const systemPrompt = "You are a debugging assistant inside retrace, a time-travel debugger. " +
	"The user is paused at one point of a finished recording. " +
	"Explain what the program is doing at this point, working from the call stack, " +
	"scope variables, and source excerpt provided. Be concrete and brief; " +
	"say when something cannot be determined from the given data."

// Frame is one call stack entry for the report.
type Frame struct {
	Name     string
	Location string
}

// Report is the debugger state an explanation is asked about.
type Report struct {
	Point    string
	Time     float64
	Frames   []Frame
	Scopes   []string
	Source   string
	Question string
}

// Explainer renders reports into prompts for a provider.
type Explainer struct {
	provider Provider
}

// NewExplainer wraps a provider.
func NewExplainer(p Provider) *Explainer {
	return &Explainer{provider: p}
}

// Explain renders the report and asks the provider about it.
func (e *Explainer) Explain(ctx context.Context, report Report) (string, error) {
	return e.provider.Explain(ctx, renderPrompt(report))
}

// renderPrompt produces a deterministic plain text block. Sections with
// no data are left out entirely.
func renderPrompt(report Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Paused at execution point %s (%.1fms into the recording).\n", report.Point, report.Time)

	if len(report.Frames) > 0 {
		b.WriteString("\nCall stack, innermost first:\n")
		for i, f := range report.Frames {
			name := f.Name
			if name == "" {
				name = "(anonymous)"
			}
			fmt.Fprintf(&b, "  %d. %s", i, name)
			if f.Location != "" {
				fmt.Fprintf(&b, " at %s", f.Location)
			}
			b.WriteString("\n")
		}
	}

	if len(report.Scopes) > 0 {
		b.WriteString("\nIn scope:\n")
		for _, s := range report.Scopes {
			fmt.Fprintf(&b, "  %s\n", s)
		}
	}

	if report.Source != "" {
		b.WriteString("\nSource around the pause:\n")
		b.WriteString(report.Source)
		if !strings.HasSuffix(report.Source, "\n") {
			b.WriteString("\n")
		}
	}

	if report.Question != "" {
		fmt.Fprintf(&b, "\nQuestion: %s\n", report.Question)
	} else {
		b.WriteString("\nExplain what is happening at this point.\n")
	}

	return b.String()
}
