package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
)

// Column names of the exported CSV.
var (
	RecordHeader = []string{"Source", "Title", "Link", "Image_URL"}
	FilterHeader = []string{"Category_ID", "Country_ID", "Language_ID"}
	IDsHeader    = []string{"Group_ID", "WhatsApp_Invite_Link"}
)

// CSVWriter writes the accumulated records to a CSV file, one row per
// record, UTF-8, without an index column.
type CSVWriter struct {
	path           string
	includeFilters bool
	written        int
	mu             sync.Mutex
}

// NewCSVWriter creates a CSV output writer for path. When
// includeFilters is set the three filter columns are appended.
func NewCSVWriter(path string, includeFilters bool) *CSVWriter {
	return &CSVWriter{path: path, includeFilters: includeFilters}
}

func (w *CSVWriter) Name() string { return "csv" }

// Path returns the file the writer targets.
func (w *CSVWriter) Path() string { return w.path }

// Written reports how many rows the last WriteRecords call wrote.
func (w *CSVWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// WriteRecords replaces the file with the given records. An empty set
// leaves any existing file untouched.
func (w *CSVWriter) WriteRecords(records []plugin.GroupRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.written = 0
	if len(records) == 0 {
		return nil
	}

	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", w.path, err)
	}
	if err := EncodeRecords(f, records, w.includeFilters); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	w.written = len(records)
	return nil
}

func (w *CSVWriter) Finalize(_ *plugin.RunSummary) error { return nil }

// EncodeRecords writes a header row and one row per record.
func EncodeRecords(out io.Writer, records []plugin.GroupRecord, includeFilters bool) error {
	cw := csv.NewWriter(out)

	header := append([]string{}, RecordHeader...)
	if includeFilters {
		header = append(header, FilterHeader...)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		row := []string{string(r.Source), r.Title, r.Link, r.ImageURL}
		if includeFilters {
			row = append(row, r.Filters.Category, r.Filters.Country, r.Filters.Language)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeRecords reads a file produced by EncodeRecords. Filter columns
// are optional.
func DecodeRecords(in io.Reader) ([]plugin.GroupRecord, error) {
	rows, err := csv.NewReader(in).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[strings.TrimPrefix(name, "\ufeff")] = i
	}
	for _, name := range RecordHeader {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	get := func(row []string, name string) string {
		if i, ok := cols[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	records := make([]plugin.GroupRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		records = append(records, plugin.GroupRecord{
			Source:   plugin.Source(get(row, "Source")),
			Title:    get(row, "Title"),
			Link:     get(row, "Link"),
			ImageURL: get(row, "Image_URL"),
			Filters: plugin.FilterSet{
				Category: get(row, "Category_ID"),
				Country:  get(row, "Country_ID"),
				Language: get(row, "Language_ID"),
			},
		})
	}
	return records, nil
}

// WriteIDs writes group IDs and their invite links as a two-column CSV.
func WriteIDs(out io.Writer, ids, links []string) error {
	if len(ids) != len(links) {
		return fmt.Errorf("%d ids but %d links", len(ids), len(links))
	}
	cw := csv.NewWriter(out)
	if err := cw.Write(IDsHeader); err != nil {
		return err
	}
	for i := range ids {
		if err := cw.Write([]string{ids[i], links[i]}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
