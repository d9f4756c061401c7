package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TableWriter renders records and the run summary as terminal tables.
type TableWriter struct {
	out     io.Writer
	records []plugin.GroupRecord
	mu      sync.Mutex
}

// NewTableWriter creates a table writer; a nil out means stdout.
func NewTableWriter(out io.Writer) *TableWriter {
	if out == nil {
		out = os.Stdout
	}
	return &TableWriter{out: out}
}

func (w *TableWriter) Name() string { return "table" }

func (w *TableWriter) WriteRecords(records []plugin.GroupRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records[:0], records...)
	return nil
}

func (w *TableWriter) Finalize(summary *plugin.RunSummary) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.records) > 0 {
		RenderRecords(w.out, w.records)
	}
	if summary != nil {
		RenderSummary(w.out, summary)
	}
	return nil
}

// RenderRecords prints one row per record.
func RenderRecords(out io.Writer, records []plugin.GroupRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"#", "Source", "Title", "Link"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, WidthMax: 40},
	})
	for i, r := range records {
		t.AppendRow(table.Row{i + 1, r.Source, r.Title, r.Link})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

// RenderSummary prints the totals of a finished run.
func RenderSummary(out io.Writer, s *plugin.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("Run summary")
	t.AppendRows([]table.Row{
		{"Source", s.Source},
		{"Started", s.StartedAt.Format(time.RFC1123)},
		{"Duration", FmtDur(s.Duration)},
		{"Pages", s.PagesProcessed},
		{"Records", s.TotalRecords},
	})
	if s.PagesFailed > 0 {
		t.AppendRow(table.Row{"Failed pages", s.PagesFailed})
	}
	if s.Resolved > 0 || s.ResolveFailed > 0 {
		t.AppendRow(table.Row{"Resolved", fmt.Sprintf("%d (%d failed)", s.Resolved, s.ResolveFailed)})
	}
	if f := s.Filters; f != (plugin.FilterSet{}) {
		t.AppendRow(table.Row{"Filters", fmt.Sprintf("category=%s country=%s language=%s", f.Category, f.Country, f.Language)})
	}
	t.AppendRow(table.Row{"Stopped", s.StopReason})
	t.AppendRow(table.Row{"State", s.FinalState})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

// RenderIDs prints group IDs next to their invite links.
func RenderIDs(out io.Writer, ids, links []string) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Group ID", "Invite link"})
	for i := range ids {
		link := ""
		if i < len(links) {
			link = links[i]
		}
		t.AppendRow(table.Row{ids[i], link})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

// FmtDur formats a duration the way status lines show it.
func FmtDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}
