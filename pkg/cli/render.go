package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"blog-monitor/pkg/backfill"
	"blog-monitor/pkg/domain"
	"blog-monitor/pkg/ingest"
	"blog-monitor/pkg/lifecycle"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func renderSources(w io.Writer, sources []domain.Source) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Name", "URL", "Health", "Validated", "Refinements", "Last Checked", "Modified By"})
	for _, s := range sources {
		t.AppendRow(table.Row{
			s.ID,
			s.Name,
			s.URL,
			s.Health,
			s.SchemaValidated,
			s.RefinementAttempts,
			formatTime(s.LastCheckedAt),
			s.LastModifiedBy,
		})
	}
	t.AppendFooter(table.Row{"", "Total", len(sources)})
	t.Render()
}

func renderPosts(w io.Writer, posts []domain.Post) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Source", "Title", "Published", "Reading", "Density", "Summary"})
	for _, p := range posts {
		reading := "-"
		if p.ReadingTime > 0 {
			reading = fmt.Sprintf("%d min", p.ReadingTime)
		}
		density := "-"
		if p.TechnicalDensity > 0 {
			density = fmt.Sprint(p.TechnicalDensity)
		}
		t.AppendRow(table.Row{
			p.ID,
			p.SourceID,
			truncate(p.Title, 60),
			formatTime(p.PublishedAt),
			reading,
			density,
			truncate(p.Summary, 60),
		})
	}
	t.AppendFooter(table.Row{"", "Total", len(posts)})
	t.Render()
}

func renderPost(w io.Writer, p domain.Post) {
	t := newTable(w)
	t.AppendRows([]table.Row{
		{"ID", p.ID},
		{"Source", p.SourceID},
		{"Title", p.Title},
		{"URL", p.URL},
		{"Published", formatTime(p.PublishedAt)},
		{"Discovered", formatTime(&p.DiscoveredAt)},
		{"Reading time", p.ReadingTime},
		{"Technical density", p.TechnicalDensity},
		{"Topics", fmt.Sprint(p.Topics)},
		{"Summary", p.Summary},
	})
	t.Render()
}

func renderStubs(w io.Writer, stubs []domain.PostStub) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Title", "URL", "Published"})
	for i, s := range stubs {
		t.AppendRow(table.Row{i + 1, truncate(s.Title, 60), s.URL, formatTime(s.Date)})
	}
	t.Render()
}

func renderProposal(w io.Writer, p lifecycle.Proposal) {
	src := p.Source
	fmt.Fprintf(w, "Source %d %q (%s) health=%s validated=%t refinements=%d\n",
		src.ID, src.Name, src.URL, src.Health, src.SchemaValidated, src.RefinementAttempts)
	if src.FeedURL != "" {
		fmt.Fprintf(w, "Feed advertised: %s\n", src.FeedURL)
	}
	if p.SchemaErr != nil {
		fmt.Fprintf(w, "Schema problem: %v\n", p.SchemaErr)
	}
	if len(p.Posts) > 0 {
		renderStubs(w, p.Posts)
	}
}

func renderCycle(w io.Writer, res ingest.CycleResult) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Source", "Name", "New", "Saved", "Full", "Partial", "Network", "Timeouts", "Error"})
	for _, s := range res.Sources {
		m := s.Metrics
		errText := ""
		if s.Err != nil {
			errText = truncate(s.Err.Error(), 50)
		}
		t.AppendRow(table.Row{s.SourceID, s.Name, m.NewPostsFound, m.PostsSaved, m.FullSuccess, m.PartialSuccess, m.NetworkErrors, m.Timeouts, errText})
	}
	tot := res.Totals
	t.AppendFooter(table.Row{"", "Total", tot.NewPostsFound, tot.PostsSaved, tot.FullSuccess, tot.PartialSuccess, tot.NetworkErrors, tot.Timeouts, ""})
	t.Render()
	fmt.Fprintf(w, "Missing: summary=%d reading_time=%d topics=%d | no text=%d | sources failed=%d disabled=%d | run %s\n",
		tot.MissingSummary, tot.MissingReadingTime, tot.MissingTopics, tot.ExtractionFailures, res.Failed, res.Disabled, res.RunID)
}

func renderBackfill(w io.Writer, sum backfill.Summary) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Post", "Title", "Status", "Fields", "Error"})
	for _, r := range sum.Results {
		errText := ""
		if r.Err != nil {
			errText = truncate(r.Err.Error(), 50)
		}
		t.AppendRow(table.Row{r.PostID, truncate(r.Title, 50), r.Status, fmt.Sprint(r.Filled), errText})
	}
	t.Render()
	mode := ""
	if sum.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "Backfill%s: total=%d success=%d partial=%d errors=%d\n", mode, sum.Total, sum.Success, sum.Partial, sum.Errors)
}

func renderTickets(w io.Writer, tickets []domain.Ticket) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Source", "Opened By", "Opened", "Resolved", "Message"})
	for _, tk := range tickets {
		t.AppendRow(table.Row{tk.ID, tk.SourceID, tk.OpenedBy, formatTime(&tk.CreatedAt), formatTime(tk.ResolvedAt), truncate(tk.Message, 60)})
	}
	t.Render()
}
