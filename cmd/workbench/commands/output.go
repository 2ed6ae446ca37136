package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"

	"github.com/rflorenc/dify-migration-workbench/internal/migration"
	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
	"github.com/rflorenc/dify-migration-workbench/internal/store"
)

func newTable() *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 60
	table.Wrap = true
	return table
}

// printReport writes the per-resource table and the lane summary of a run.
func printReport(w io.Writer, r *models.MigrationReport) {
	fmt.Fprintf(w, "Run %s (%s)\n\n", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if outcomes := r.Outcomes(); len(outcomes) > 0 {
		printOutcomes(w, outcomes)
		fmt.Fprintln(w)
	}

	table := newTable()
	table.AddRow("LANE", "STATUS", "STATE", "DETAIL")
	for _, l := range r.Lanes {
		detail := l.Reason
		if l.Error != "" {
			detail = l.Error
		}
		if l.Cancelled {
			detail = strings.TrimSpace("cancelled " + detail)
		}
		for _, se := range l.SourceErrors {
			detail = strings.TrimSpace(fmt.Sprintf("%s source %s: %s", detail, se.Source, se.Error))
		}
		table.AddRow(l.Kind, l.Status, l.State, detail)
	}
	fmt.Fprintln(w, table)

	totals := r.Totals()
	statuses := make([]string, 0, len(totals))
	for s, n := range totals {
		statuses = append(statuses, fmt.Sprintf("%s=%s", s, humanize.Comma(int64(n))))
	}
	sort.Strings(statuses)
	if len(statuses) > 0 {
		fmt.Fprintf(w, "\nTotals: %s\n", strings.Join(statuses, " "))
	}
	if r.Fatal != "" {
		fmt.Fprintf(w, "FATAL: %s\n", r.Fatal)
	}
}

func printOutcomes(w io.Writer, outcomes []models.TransferOutcome) {
	table := newTable()
	for _, col := range []int{4, 5, 6} {
		table.RightAlign(col)
	}
	table.AddRow("KIND", "ORIGIN", "RESOURCE", "STATUS", "ATTEMPTED", "OK", "FAILED", "ERROR")
	for _, o := range outcomes {
		table.AddRow(o.Kind, o.Origin, o.Resource, o.Status, o.Attempted, o.Succeeded, o.Failed, o.FirstError)
	}
	fmt.Fprintln(w, table)
}

func printPreview(w io.Writer, p *migration.MigrationPreview) {
	table := newTable()
	table.AddRow("KIND", "ORIGIN", "RESOURCE", "ACTION", "TARGET ID")
	for _, l := range p.Lanes {
		for _, it := range l.Items {
			table.AddRow(l.Kind, it.Origin, it.Resource, it.Action, it.TargetID)
		}
	}
	fmt.Fprintln(w, table)

	for _, l := range p.Lanes {
		if l.Error != "" {
			fmt.Fprintf(w, "%s: %s\n", l.Kind, l.Error)
		}
		for _, se := range l.SourceErrors {
			fmt.Fprintf(w, "%s: source %s unavailable: %s\n", l.Kind, se.Source, se.Error)
		}
	}
	for _, warn := range p.Warnings {
		fmt.Fprintf(w, "WARNING: %s\n", warn)
	}
	counts := p.Counts()
	fmt.Fprintf(w, "\nPlan: %d create, %d reuse, %d skip, %d missing\n",
		counts[migration.ActionCreate], counts[migration.ActionReuse], counts[migration.ActionSkip], counts[migration.ActionMissing])
}

func printListings(w io.Writer, kind models.Kind, listings []migration.OriginListing) {
	fmt.Fprintf(w, "== %s ==\n", kind)
	table := newTable()
	table.AddRow("ORIGIN", "NAME", "ID", "MODE")
	for _, l := range listings {
		if l.Error != "" {
			table.AddRow(l.Origin, "", "", "ERROR: "+l.Error)
			continue
		}
		if len(l.Resources) == 0 {
			table.AddRow(l.Origin, "(none)", "", "")
		}
		for _, r := range l.Resources {
			table.AddRow(l.Origin, r.Name, r.ID, r.Mode)
		}
	}
	fmt.Fprintln(w, table)
}

func printHealth(w io.Writer, results []platform.Health) {
	table := newTable()
	table.AddRow("ENDPOINT", "URL", "KEY", "KNOWLEDGE API", "CONSOLE")
	for _, h := range results {
		kb := h.Knowledge
		if h.KnowledgeError != "" {
			kb += ": " + h.KnowledgeError
		}
		console := h.Console
		if h.ConsoleError != "" {
			console += ": " + h.ConsoleError
		}
		table.AddRow(h.Label, h.BaseURL, h.Key, kb, console)
	}
	fmt.Fprintln(w, table)
}

func printRuns(w io.Writer, runs []store.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No recorded runs")
		return
	}
	table := newTable()
	table.AddRow("RUN", "TYPE", "RESULT", "STARTED", "DURATION", "OUTCOMES")
	for _, r := range runs {
		var parts []string
		for _, s := range []models.OutcomeStatus{
			models.StatusCreated, models.StatusSucceeded, models.StatusSkippedExisting,
			models.StatusPartiallyFailed, models.StatusFailed,
		} {
			if n := r.Totals[s]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", s, n))
			}
		}
		table.AddRow(r.ID, r.Type, r.Result, humanize.Time(r.StartedAt),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second), strings.Join(parts, " "))
	}
	fmt.Fprintln(w, table)
}
