package source

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/fetcher"
)

// Table is a raw source table: a header row plus data rows.
type Table struct {
	Location string
	Header   []string
	Rows     [][]string
}

// ReadOptions tunes table parsing.
type ReadOptions struct {
	Delimiter rune   // CSV only
	Sheet     string // XLSX only; first sheet when empty
}

// Reader opens source locations and parses them into tables.
type Reader struct {
	opener *fetcher.Opener
	log    *zap.Logger
}

// NewReader creates a Reader backed by opener.
func NewReader(opener *fetcher.Opener) *Reader {
	return &Reader{
		opener: opener,
		log:    zap.L().With(zap.String("component", "source")),
	}
}

// Read loads the table at location. Workbooks are detected by the .xlsx
// extension; everything else is parsed as CSV.
func (r *Reader) Read(ctx context.Context, location string, opts ReadOptions) (*Table, error) {
	rc, err := r.opener.Open(ctx, location)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", location)
	}
	defer rc.Close() //nolint:errcheck

	var rows [][]string
	switch fetcher.Ext(location) {
	case "xlsx":
		rows, err = fetcher.ReadXLSX(rc, fetcher.XLSXOptions{SheetName: opts.Sheet})
	default:
		rows, err = fetcher.ReadCSV(ctx, rc, fetcher.CSVOptions{Delimiter: opts.Delimiter, LazyQuotes: true})
	}
	if err != nil {
		return nil, eris.Wrapf(err, "source: parse %s", location)
	}

	t := NewTable(location, rows)
	r.log.Info("table loaded",
		zap.String("location", location),
		zap.Int("columns", len(t.Header)),
		zap.Int("rows", len(t.Rows)),
	)
	return t, nil
}

// NewTable splits rows into header and data, dropping blank rows.
func NewTable(location string, rows [][]string) *Table {
	t := &Table{Location: location}
	for _, row := range rows {
		if blank(row) {
			continue
		}
		if t.Header == nil {
			t.Header = row
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
