// Package reporting provides the CSV and webhook output collaborators
// spec.md §6 documents the exact wire formats of.
package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/striiike/Efficient-Pattern-Detection/internal/bikecep"
)

// WriteLatencyCSV writes one `delay_ms` column, one row per match, formatted
// to three decimal places, in emission order (spec.md §6).
func WriteLatencyCSV(w io.Writer, samplesMS []float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"delay_ms"}); err != nil {
		return fmt.Errorf("reporting: writing latency header: %w", err)
	}
	for _, v := range samplesMS {
		if err := cw.Write([]string{strconv.FormatFloat(v, 'f', 3, 64)}); err != nil {
			return fmt.Errorf("reporting: writing latency row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteProjectionCSV writes the `a1_start,last_a_end,b_end` header followed
// by one row per projection, preserving emission order so the multiset
// (including duplicates) survives the round trip (spec.md §6, R1).
func WriteProjectionCSV(w io.Writer, projections []bikecep.Projection) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"a1_start", "last_a_end", "b_end"}); err != nil {
		return fmt.Errorf("reporting: writing projection header: %w", err)
	}
	for _, p := range projections {
		row := []string{
			strconv.Itoa(p.A1Start),
			strconv.Itoa(p.LastAEnd),
			strconv.Itoa(p.TerminalEnd),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("reporting: writing projection row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadProjectionCSV is the inverse of WriteProjectionCSV, returning the
// projections in file order (spec.md §8 R1: "writing then reading a
// projection CSV yields the same multiset").
func ReadProjectionCSV(r io.Reader) ([]bikecep.Projection, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reporting: reading projection header: %w", err)
	}
	if len(header) != 3 || header[0] != "a1_start" || header[1] != "last_a_end" || header[2] != "b_end" {
		return nil, fmt.Errorf("reporting: unexpected projection CSV header %v", header)
	}

	var out []bikecep.Projection
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reporting: reading projection row: %w", err)
		}
		a1, err1 := strconv.Atoi(row[0])
		last, err2 := strconv.Atoi(row[1])
		term, err3 := strconv.Atoi(row[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("reporting: malformed projection row %v", row)
		}
		out = append(out, bikecep.Projection{A1Start: a1, LastAEnd: last, TerminalEnd: term})
	}
	return out, nil
}

// WriteCounterCSV writes the `name,value` counter snapshot, rows already
// sorted by name by Counters.CounterSnapshot (spec.md §6).
func WriteCounterCSV(w io.Writer, snapshot []bikecep.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"name", "value"}); err != nil {
		return fmt.Errorf("reporting: writing counter header: %w", err)
	}
	for _, s := range snapshot {
		row := []string{s.Name, strconv.FormatInt(s.Value, 10)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("reporting: writing counter row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
