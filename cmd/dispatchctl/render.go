package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/shiva/sosdispatch/internal/model"
)

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func coords(loc model.Location) string {
	if len(loc.Coordinates) != 2 {
		return ""
	}
	return fmt.Sprintf("%.5f,%.5f", loc.Coordinates[0], loc.Coordinates[1])
}

func age(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	return now.Sub(t).Truncate(time.Second).String()
}

func renderUnits(out io.Writer, units []model.Unit) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"ID", "Name", "Category", "Status", "Case", "Task", "Location"})
	for _, u := range units {
		tw.AppendRow(table.Row{u.ID, u.Name, u.Category, u.Status, u.CurrentCaseID, u.CurrentTask, coords(u.Location)})
	}
	tw.Render()
}

func renderCases(out io.Writer, title string, views []model.CaseView, now time.Time) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	if title != "" {
		tw.SetTitle(title)
	}
	tw.AppendHeader(table.Row{"ID", "Status", "Category", "Severity", "Triage", "Reporter", "Unit", "Age"})
	for _, v := range views {
		reporter := v.ReporterID
		if v.Reporter != nil && v.Reporter.Name != "" {
			reporter = v.Reporter.Name
		}
		unit := ""
		if v.AssignedUnit != nil {
			unit = v.AssignedUnit.Name
		}
		tw.AppendRow(table.Row{v.ID, v.Status, v.Category, v.Severity, v.TriageScore, reporter, unit, age(v.CreatedAt, now)})
	}
	tw.Render()
}

func renderFeed(out io.Writer, v *model.FeedView) {
	fmt.Fprintf(out, "feed @ %s (role %s)\n", v.GeneratedAt.Format(time.RFC3339), v.Role)
	renderCases(out, "Pending", v.Pending, v.GeneratedAt)
	renderCases(out, "Active", v.Active, v.GeneratedAt)
	if len(v.Units) > 0 {
		renderUnits(out, v.Units)
	}
	if len(v.UnitCounts) > 0 {
		keys := make([]string, 0, len(v.UnitCounts))
		for st := range v.UnitCounts {
			keys = append(keys, string(st))
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, v.UnitCounts[model.UnitStatus(k)]))
		}
		fmt.Fprintf(out, "units: %s\n", strings.Join(parts, " "))
	}
}

func renderAssignment(out io.Writer, a *model.Assignment) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Case", "Case Status", "Unit", "Unit Status", "Task", "Distance (km)"})
	tw.AppendRow(table.Row{a.Case.ID, a.Case.Status, a.Unit.Name, a.Unit.Status, a.Unit.CurrentTask, a.DistanceKm})
	tw.Render()
}
