// Package ingest provides EventSource implementations that feed
// internal/bikecep.Pipeline from a file or a message broker.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/striiike/Efficient-Pattern-Detection/internal/bikecep"
)

// citiBikeTimeLayouts mirrors BikeDataFormatter.get_event_timestamp's
// fallback chain: try with fractional seconds, then without.
var citiBikeTimeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// CSVSource reads trip events from a Citi-Bike-style CSV export: tripduration,
// starttime, stoptime, start station id, start station name, start station
// latitude, start station longitude, end station id, end station name, end
// station latitude, end station longitude, bikeid, usertype, birth year,
// gender. Rows with fewer than 12 columns are skipped and logged, matching
// BikeStream.py's `_load_csv_data` tolerance for malformed rows.
type CSVSource struct {
	r       *csv.Reader
	log     *logrus.Entry
	skipped int
	lineNum int
}

// NewCSVSource wraps r, skipping the header row.
func NewCSVSource(r io.Reader, log *logrus.Entry) (*CSVSource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &CSVSource{r: cr, log: log}
	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("ingest: empty CSV file")
		}
		return nil, fmt.Errorf("ingest: reading CSV header: %w", err)
	}
	s.lineNum = 1
	return s, nil
}

// Next implements bikecep.EventSource.
func (s *CSVSource) Next() (*bikecep.TripEvent, bool, error) {
	for {
		row, err := s.r.Read()
		if err == io.EOF {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("ingest: reading CSV row %d: %w", s.lineNum, err)
		}
		s.lineNum++

		if len(row) < 12 {
			s.skipped++
			s.log.Warnf("ingest, skipping malformed row %d: %d columns", s.lineNum, len(row))
			continue
		}

		e, err := parseCitiBikeRow(row)
		if err != nil {
			s.skipped++
			s.log.Warnf("ingest, skipping row %d: %s", s.lineNum, err)
			continue
		}
		return e, true, nil
	}
}

// SkippedRows returns the count of malformed or unparsable rows dropped so
// far.
func (s *CSVSource) SkippedRows() int { return s.skipped }

func parseCitiBikeRow(row []string) (*bikecep.TripEvent, error) {
	startTime, err := parseCitiBikeTime(row[1])
	if err != nil {
		return nil, fmt.Errorf("starttime: %w", err)
	}
	endTime, err := parseCitiBikeTime(row[2])
	if err != nil {
		return nil, fmt.Errorf("stoptime: %w", err)
	}

	startStation, err := parseStationID(row[3])
	if err != nil {
		return nil, fmt.Errorf("start station id: %w", err)
	}
	endStation, err := parseStationID(row[7])
	if err != nil {
		return nil, fmt.Errorf("end station id: %w", err)
	}

	var durationSec int64
	if s := strings.TrimSpace(row[0]); s != "" {
		durationSec, _ = strconv.ParseInt(s, 10, 64)
	}

	e := &bikecep.TripEvent{
		BikeID:           strings.TrimSpace(row[11]),
		StartStation:     startStation,
		EndStation:       endStation,
		StartTime:        startTime,
		EndTime:          endTime,
		Duration:         time.Duration(durationSec) * time.Second,
		StartStationName: strings.TrimSpace(row[4]),
		EndStationName:   strings.TrimSpace(row[8]),
	}
	if !e.Valid() {
		return nil, fmt.Errorf("stoptime before starttime")
	}
	return e, nil
}

func parseStationID(field string) (int, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func parseCitiBikeTime(field string) (time.Time, error) {
	field = strings.TrimSpace(field)
	var lastErr error
	for _, layout := range citiBikeTimeLayouts {
		if t, err := time.Parse(layout, field); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
