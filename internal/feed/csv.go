package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"smc-engine/internal/market"
)

// Column order used when a file has no header row.
var defaultColumns = []string{"date", "open", "high", "low", "close", "volume"}

var columnAliases = map[string]string{
	"date":      "date",
	"time":      "date",
	"datetime":  "date",
	"timestamp": "date",
	"open":      "open",
	"high":      "high",
	"low":       "low",
	"close":     "close",
	"volume":    "volume",
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"2006-01-02",
}

// LoadCSV reads bars from a file. See ParseCSV.
func LoadCSV(path string, loc *time.Location) ([]market.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	bars, err := ParseCSV(f, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ParseCSV reads Date,Open,High,Low,Close[,Volume] rows. A header row is
// optional and may reorder the columns. Timestamps without an offset are read
// in loc (UTC when nil); integer timestamps are unix seconds or milliseconds.
// Prices that do not parse become NaN so the engine flags the bar instead of
// the loader dropping it. A volume that is not a finite number reads as zero.
// Rows are returned in file order.
func ParseCSV(r io.Reader, loc *time.Location) ([]market.Bar, error) {
	if loc == nil {
		loc = time.UTC
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var (
		bars    []market.Bar
		columns map[string]int
		line    int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++

		if columns == nil {
			if hdr, ok := headerColumns(record); ok {
				columns = hdr
				continue
			}
			columns = positional()
		}

		bar, err := parseRecord(record, columns, loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func positional() map[string]int {
	cols := make(map[string]int, len(defaultColumns))
	for i, name := range defaultColumns {
		cols[name] = i
	}
	return cols
}

// headerColumns reports whether record is a header and maps its columns.
func headerColumns(record []string) (map[string]int, bool) {
	cols := make(map[string]int)
	for i, field := range record {
		if name, ok := columnAliases[strings.ToLower(strings.TrimSpace(field))]; ok {
			if _, dup := cols[name]; !dup {
				cols[name] = i
			}
		}
	}
	for _, required := range defaultColumns[:5] {
		if _, ok := cols[required]; !ok {
			return nil, false
		}
	}
	return cols, true
}

func parseRecord(record []string, cols map[string]int, loc *time.Location) (market.Bar, error) {
	field := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[i]), true
	}

	raw, ok := field("date")
	if !ok {
		return market.Bar{}, fmt.Errorf("missing timestamp")
	}
	ts, err := ParseTime(raw, loc)
	if err != nil {
		return market.Bar{}, err
	}

	price := func(name string) float64 {
		s, ok := field(name)
		if !ok {
			return math.NaN()
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return v
	}

	bar := market.Bar{
		Time:  ts,
		Open:  price("open"),
		High:  price("high"),
		Low:   price("low"),
		Close: price("close"),
	}
	if _, ok := field("volume"); ok {
		if v := price("volume"); !math.IsNaN(v) && !math.IsInf(v, 0) {
			bar.Volume = v
		}
	}
	return bar, nil
}

// ParseTime parses one timestamp cell.
func ParseTime(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// Values past 1e11 are milliseconds (year 5138 in seconds).
		if n > 1e11 || n < -1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// ParseTimeframe converts "1m", "15m", "1h", "4h", "1d" or "1w" to a duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	tf = strings.TrimSpace(tf)
	if tf == "" {
		return 0, fmt.Errorf("empty timeframe")
	}
	unit := tf[len(tf)-1]
	switch unit {
	case 'd', 'w':
		n, err := strconv.Atoi(tf[:len(tf)-1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid timeframe %q", tf)
		}
		d := time.Duration(n) * 24 * time.Hour
		if unit == 'w' {
			d *= 7
		}
		return d, nil
	}
	d, err := time.ParseDuration(tf)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	return d, nil
}

// Resample aggregates bars into buckets of width d aligned to the unix epoch:
// first open, max high, min low, last close, summed volume. Non-finite bars
// are left out and buckets with no finite bar are dropped.
func Resample(bars []market.Bar, d time.Duration) []market.Bar {
	if d <= 0 {
		return bars
	}

	var (
		out    []market.Bar
		cur    market.Bar
		bucket time.Time
		open   bool
	)
	for _, b := range bars {
		if !b.IsFinite() {
			continue
		}
		start := b.Time.Truncate(d)
		if open && start.Equal(bucket) {
			cur.High = math.Max(cur.High, b.High)
			cur.Low = math.Min(cur.Low, b.Low)
			cur.Close = b.Close
			cur.Volume += b.Volume
			continue
		}
		if open {
			out = append(out, cur)
		}
		bucket = start
		cur = b
		cur.Time = start.In(b.Time.Location())
		open = true
	}
	if open {
		out = append(out, cur)
	}
	return out
}
