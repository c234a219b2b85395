package runner

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"

	"mire/pkg/color"
	"mire/pkg/interpreter"
)

// Report prints evaluation results.
type Report struct {
	Out     io.Writer
	Verbose bool
	NoColor bool
}

// Print writes one entry per result followed by a summary box and returns
// the number of failed results.
func (r Report) Print(results []Result) int {
	failed := 0
	steps := 0
	for _, res := range results {
		steps += res.Steps
		if res.Err != nil {
			failed++
			fmt.Fprintf(r.Out, "%s %s\n", color.RedText("FAIL"), res.File)
			fmt.Fprintln(r.Out, diagnostic(res))
			continue
		}

		fmt.Fprintf(r.Out, "%s   %s = %s %s\n",
			color.GreenText("ok"),
			res.File,
			color.BoldText(res.Value),
			color.GrayText(fmt.Sprintf("(%s steps, %s)", humanize.Comma(int64(res.Steps)), humanize.IBytes(res.Usage))))
		if r.Verbose {
			for _, it := range res.Items {
				fmt.Fprintf(r.Out, "    %s\n", color.Code(it))
			}
		}
	}

	fmt.Fprintln(r.Out, r.summary(len(results)-failed, failed, steps))
	return failed
}

func (r Report) summary(passed, failed, steps int) string {
	renderer := lipgloss.NewRenderer(r.Out)
	if r.NoColor {
		renderer.SetColorProfile(termenv.Ascii)
	}

	status := renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	if failed > 0 {
		status = status.Foreground(lipgloss.Color("204"))
	}
	box := renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1)

	text := fmt.Sprintf("%s  %s",
		status.Render(fmt.Sprintf("%d passed, %d failed", passed, failed)),
		humanize.Comma(int64(steps))+" steps")
	return box.Render(text)
}

func diagnostic(res Result) string {
	var re *interpreter.RunError
	if !errors.As(res.Err, &re) {
		return color.Diagnostic(res.File, "load", res.Err.Error(), nil)
	}

	pos := res.File
	if !re.Span.IsZero() {
		pos = re.Span.String()
	}
	notes := make([]string, 0, len(re.Trace))
	for _, f := range re.Trace {
		note := "in " + f.String()
		if !f.Span.IsZero() {
			note += " called at " + f.Span.String()
		}
		notes = append(notes, note)
	}
	if re.Steps > 0 {
		notes = append(notes, fmt.Sprintf("after %s steps", humanize.Comma(int64(re.Steps))))
	}
	return color.Diagnostic(pos, re.Kind().String(), strings.TrimSpace(re.Err.Error()), notes)
}
