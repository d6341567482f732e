package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"negotiator/internal/app"
	"negotiator/internal/forecast"
	"negotiator/internal/store/model"

	"github.com/charmbracelet/lipgloss"
)

// UI styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 2).
			Width(80)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Width(22)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB")).
			Bold(true)

	headStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

type kv struct {
	key   string
	value string
}

func renderPanel(title string, rows []kv) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	for _, r := range rows {
		b.WriteString(keyStyle.Render(r.key))
		b.WriteString(valueStyle.Render(r.value))
		b.WriteString("\n")
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// DisplaySimulation 展示一次自博弈的统计结果。
func DisplaySimulation(w io.Writer, r app.SimulationReport) {
	st := r.Stats
	rows := []kv{
		{"run", orDash(st.RunID)},
		{"markets x rounds", fmt.Sprintf("%d x %d", st.Markets, st.Rounds)},
		{"negotiations", fmt.Sprintf("%d", st.Negotiations)},
		{"agreements", fmt.Sprintf("%d (%.1f%%)", st.Agreements, 100*st.AgreementRate())},
		{"volume", fmt.Sprintf("%d", st.Volume)},
		{"need / unmet", fmt.Sprintf("%d / %d", st.Need, st.Unmet)},
		{"mean unit price", fmt.Sprintf("%.2f", st.MeanPrice())},
		{"records", fmt.Sprintf("%d", st.Records)},
		{"stored rows", fmt.Sprintf("%d", r.StoreRows)},
		{"csv", orDash(r.CSVPath)},
		{"elapsed", st.Elapsed.Round(time.Millisecond).String()},
	}
	fmt.Fprintln(w, renderPanel("Simulation", rows))
}

// DisplayTable 展示预测表概况和观测最多的状态键。
func DisplayTable(w io.Writer, t *forecast.Table, top int) {
	fmt.Fprintln(w, renderPanel("Forecast table", []kv{
		{"kind", string(t.Kind())},
		{"rows", fmt.Sprintf("%d", t.Rows())},
		{"keys", fmt.Sprintf("%d", t.Len())},
		{"misses", fmt.Sprintf("%d", t.Misses())},
	}))
	entries := t.Top(top)
	if len(entries) == 0 {
		fmt.Fprintln(w, warnStyle.Render("no observed keys"))
		return
	}
	fmt.Fprintln(w, headStyle.Render(fmt.Sprintf("%-20s %6s %8s %8s %7s", "key", "obs", "qty", "price", "agree")))
	for _, e := range entries {
		fmt.Fprintf(w, "%-20s %6d %8.2f %8.3f %7.2f\n", e.Key, e.Observations, e.MeanQuantity, e.MeanNormalizedPrice, e.AgreeProb)
	}
}

// DisplayRuns 列出最近的数据采集批次。
func DisplayRuns(w io.Writer, runs []model.RunModel) {
	if len(runs) == 0 {
		fmt.Fprintln(w, warnStyle.Render("no runs recorded"))
		return
	}
	fmt.Fprintln(w, headStyle.Render(fmt.Sprintf("%-36s %-10s %-8s %8s  %s", "run", "source", "status", "records", "started")))
	for _, r := range runs {
		status := runStatus(r.Status)
		line := fmt.Sprintf("%-36s %-10s %-8s %8d  %s", r.RunID, r.Source, status, r.Records,
			time.UnixMilli(r.StartedAtUnix).Format(time.DateTime))
		switch r.Status {
		case model.RunStatusFailed:
			line = errorStyle.Render(line) + "  " + r.Error
		case model.RunStatusRunning:
			line = warnStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}

func runStatus(s model.RunStatus) string {
	switch s {
	case model.RunStatusDone:
		return "done"
	case model.RunStatusFailed:
		return "failed"
	default:
		return "running"
	}
}

// DisplayError shows an error message
func DisplayError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("Error: "+err.Error()))
}

// DisplaySuccess shows a success message
func DisplaySuccess(w io.Writer, message string) {
	fmt.Fprintln(w, successStyle.Render(message))
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
