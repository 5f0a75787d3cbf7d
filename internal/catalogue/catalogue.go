// Package catalogue reads source lists with sky positions and keeps the rows
// that fall inside a coverage set.
package catalogue

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/sky-coverage/internal/moc"
)

type Options struct {
	LonColumn string // default "ra"
	LatColumn string // default "dec"
	Frame     moc.Frame
	Comma     rune
}

func (o Options) withDefaults() Options {
	if o.LonColumn == "" {
		o.LonColumn = "ra"
	}
	if o.LatColumn == "" {
		o.LatColumn = "dec"
	}
	if o.Comma == 0 {
		o.Comma = ','
	}
	return o
}

// RowError flags a data row whose position could not be used. Line is the
// 1-based line of the row in the input, counting the header.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

type Table struct {
	Header []string
	Rows   [][]string
	Points []moc.SkyPoint
}

// Read parses a CSV with a header row. Rows whose position does not parse are
// kept with a NaN point and reported in the returned error, so the caller can
// still use the rest of the table.
func Read(r io.Reader, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	frame, err := moc.ParseFrame(string(opts.Frame))
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.Comma = opts.Comma
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	lonIdx, latIdx := column(header, opts.LonColumn), column(header, opts.LatColumn)
	if lonIdx < 0 || latIdx < 0 {
		return nil, fmt.Errorf("columns %q and %q required, header has %v", opts.LonColumn, opts.LatColumn, header)
	}
	cr.FieldsPerRecord = len(header)

	t := &Table{Header: header}
	var errs []error
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) && errors.Is(pe.Err, csv.ErrFieldCount) {
				errs = append(errs, &RowError{Line: pe.StartLine, Err: pe.Err})
				continue
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		p := moc.SkyPoint{Frame: frame}
		p.Lon, err = strconv.ParseFloat(strings.TrimSpace(rec[lonIdx]), 64)
		if err == nil {
			p.Lat, err = strconv.ParseFloat(strings.TrimSpace(rec[latIdx]), 64)
		}
		if err != nil {
			errs = append(errs, &RowError{Line: line, Err: fmt.Errorf("%w: %v", moc.ErrInvalidCoordinate, err)})
			p.Lon, p.Lat = math.NaN(), math.NaN()
		}
		t.Rows = append(t.Rows, rec)
		t.Points = append(t.Points, p)
	}
	return t, errors.Join(errs...)
}

// Filter returns the rows inside m in input order. Rows with invalid
// positions are never kept.
func Filter(m *moc.MOC, t *Table) [][]string {
	inside, _ := m.Contains(t.Points)
	out := make([][]string, 0, len(t.Rows))
	for i, ok := range inside {
		if ok {
			out = append(out, t.Rows[i])
		}
	}
	return out
}

func WriteCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

func column(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}
