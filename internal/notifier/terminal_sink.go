package notifier

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/propcompliance/internal/evaluator"
)

var (
	hardStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("160")).
		Padding(0, 1)

	warnStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("220")).
		Padding(0, 1)

	panelBorder = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	accountTitle = lipgloss.NewStyle().Bold(true)
)

// TerminalSink is the default notifier sink: one bordered panel per
// dispatch, one line per breach, colored by severity.
func TerminalSink(w io.Writer) Sink {
	return func(accountLabel string, breaches []evaluator.RuleBreach) {
		if len(breaches) == 0 {
			return
		}

		var body strings.Builder
		body.WriteString(accountTitle.Render(accountLabel))
		body.WriteString("\n")

		for _, b := range breaches {
			style := warnStyle
			if b.Level == evaluator.LevelHard {
				style = hardStyle
			}
			line := fmt.Sprintf("%s  %s  (%.2f / %.2f)", string(b.Level), b.Message, b.Value, b.Threshold)
			body.WriteString(style.Render(line))
			body.WriteString("\n")
		}

		fmt.Fprintln(w, panelBorder.Render(strings.TrimRight(body.String(), "\n")))
	}
}
