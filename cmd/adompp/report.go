package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

const (
	colorCaution = "#FFCC00"
	colorOk      = "#33FF33"
	colorMuted   = "#CCCCCC"
)

// reporter prints operator-facing lines. Colors are dropped when w is not a
// terminal.
type reporter struct {
	w       io.Writer
	caution lipgloss.Style
	ok      lipgloss.Style
	muted   lipgloss.Style
}

func newReporter(w io.Writer) *reporter {
	renderer := lipgloss.NewRenderer(w)
	return &reporter{
		w:       w,
		caution: renderer.NewStyle().Foreground(lipgloss.Color(colorCaution)).Bold(true),
		ok:      renderer.NewStyle().Foreground(lipgloss.Color(colorOk)).Bold(true),
		muted:   renderer.NewStyle().Foreground(lipgloss.Color(colorMuted)),
	}
}

func (r *reporter) warning(message string) error {
	_, err := fmt.Fprintf(r.w, "%s %s\n", r.caution.Render("warning:"), message)
	return err
}

func (r *reporter) summary(items int, target string, hierarchy bool) error {
	mode := "type order"
	if hierarchy {
		mode = "hierarchy"
	}
	_, err := fmt.Fprintf(r.w, "%s %d task(s) to %s %s\n",
		r.ok.Render("exported"), items, target, r.muted.Render("("+mode+")"))
	return err
}
