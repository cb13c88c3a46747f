package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/germanamz/modelrouter/pkg/catalog"
	"github.com/germanamz/modelrouter/pkg/dispatch"
	"github.com/germanamz/modelrouter/pkg/engine"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	modelStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	reasonStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	headerDivider = dimStyle.Render(" · ")
)

// routeHeader summarizes the routing decision of a reply in one line.
func routeHeader(r *engine.Reply) string {
	parts := []string{
		modelStyle.Render(r.Model),
		reasonStyle.Render(string(r.Reason())),
	}
	if fb := r.Decision.FallbackModels; len(fb) > 0 {
		parts = append(parts, dimStyle.Render("fallbacks: "+strings.Join(fb, ", ")))
	}
	return "▸ " + strings.Join(parts, headerDivider)
}

// attemptsSummary lists failed dispatch attempts, one per line.
func attemptsSummary(attempts []dispatch.Attempt) string {
	lines := make([]string, 0, len(attempts))
	for _, a := range attempts {
		lines = append(lines, failedStyle.Render(fmt.Sprintf("  ✗ %s #%d: %s", a.Model, a.Index, a.Message)))
	}
	return strings.Join(lines, "\n")
}

// renderMarkdown converts markdown text to terminal-formatted output. Falls
// back to plain text if the renderer is unavailable.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md + "\n"
	}

	out, err := r.Render(md)
	if err != nil {
		return md + "\n"
	}
	return out
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

// catalogRows lays out one row per model.
func catalogRows(cat *catalog.Catalog) [][]string {
	models := cat.Models()
	rows := make([][]string, 0, len(models))
	for _, d := range models {
		size := ""
		if d.SizeB != nil {
			size = strconv.FormatFloat(*d.SizeB, 'f', -1, 64) + "B"
		}

		roles := make([]string, 0, len(d.RecommendedFor))
		for _, r := range d.RecommendedFor {
			roles = append(roles, string(r))
		}

		rows = append(rows, []string{
			d.ID,
			size,
			yesNo(d.IsChat),
			yesNo(d.SupportsVision),
			strings.Join(d.Tags, ","),
			strings.Join(roles, ","),
		})
	}
	return rows
}

func runModels(ctx context.Context, eng *engine.Engine, refresh bool, out io.Writer) error {
	cat := eng.Models(ctx, refresh)

	fmt.Fprintf(out, "%d models (%s)\n", cat.Len(), cat.Source())
	_, err := fmt.Fprintln(out, renderTable(
		[]string{"Model", "Size", "Chat", "Vision", "Tags", "Recommended"},
		catalogRows(cat),
		[]columnAlignment{alignLeft, alignRight},
	))
	return err
}

func runTraces(ctx context.Context, eng *engine.Engine, limit int, out io.Writer) error {
	entries, err := eng.RecentTraces(ctx, limit)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.TraceID,
			string(e.Reason),
			e.SelectedModel,
			e.ServedModel,
			strconv.Itoa(len(e.Attempts)),
			strconv.Itoa(e.Attachments.Total),
		})
	}

	_, err = fmt.Fprintln(out, renderTable(
		[]string{"Time", "Trace", "Reason", "Selected", "Served", "Failed", "Attachments"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))
	return err
}

// printMetrics writes every gathered counter series as a table row.
func printMetrics(g prometheus.Gatherer, out io.Writer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	var rows [][]string
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)

			rows = append(rows, []string{
				mf.GetName(),
				strings.Join(labels, " "),
				strconv.FormatFloat(m.GetCounter().GetValue(), 'f', -1, 64),
			})
		}
	}

	_, err = fmt.Fprintln(out, renderTable(
		[]string{"Metric", "Labels", "Value"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))
	return err
}
