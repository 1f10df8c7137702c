package spatial

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// pointRow uses pointers so blank cells are detected instead of read as zero.
type pointRow struct {
	X *float64 `csv:"X"`
	Y *float64 `csv:"Y"`
}

// LoadReport summarises what happened while reading a point table.
type LoadReport struct {
	Rows          int `json:"rows" yaml:"rows"`
	Kept          int `json:"kept" yaml:"kept"`
	OutsideWindow int `json:"outside_window" yaml:"outside_window"`
}

// LoadPoints reads a CSV with numeric X and Y columns and returns the pattern
// of points inside w. Column names are matched case-insensitively; other
// columns are ignored. Points outside the window are dropped and counted.
func LoadPoints(path string, w *Window) (*Pattern, LoadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadReport{}, eris.Wrapf(err, "spatial: open points %s", path)
	}
	defer f.Close() //nolint:errcheck

	pts, err := ReadPoints(f)
	if err != nil {
		return nil, LoadReport{}, eris.Wrapf(err, "spatial: points %s", path)
	}

	inside, outside := FilterWindow(w, pts)
	rep := LoadReport{Rows: len(pts), Kept: len(inside), OutsideWindow: outside}
	if outside > 0 {
		zap.L().Warn("spatial: dropped points outside window",
			zap.String("path", path),
			zap.Int("dropped", outside),
			zap.Int("kept", len(inside)),
		)
	}
	return &Pattern{Window: w, Points: inside}, rep, nil
}

// ReadPoints decodes X/Y rows from CSV. Any unparsable or non-finite
// coordinate is an error naming the data line.
func ReadPoints(r io.Reader) ([]Point, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("spatial: empty point table")
		}
		return nil, eris.Wrap(err, "spatial: read header")
	}
	normalized := make([]string, len(header))
	var hasX, hasY bool
	for i, h := range header {
		h = strings.TrimSpace(strings.Trim(h, "\ufeff\""))
		switch strings.ToUpper(h) {
		case "X":
			h, hasX = "X", true
		case "Y":
			h, hasY = "Y", true
		}
		normalized[i] = h
	}
	if !hasX || !hasY {
		return nil, eris.Errorf("spatial: point table needs X and Y columns, got %v", header)
	}

	dec, err := csvutil.NewDecoder(cr, normalized...)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: build decoder")
	}

	var pts []Point
	for line := 2; ; line++ {
		var row pointRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, eris.Wrapf(err, "spatial: line %d", line)
		}
		if row.X == nil || row.Y == nil {
			return nil, eris.Errorf("spatial: line %d is missing a coordinate", line)
		}
		p := Point{X: *row.X, Y: *row.Y}
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return nil, eris.Errorf("spatial: line %d has non-finite coordinates", line)
		}
		pts = append(pts, p)
	}
	return pts, nil
}

// WritePoints writes X/Y rows as CSV.
func WritePoints(w io.Writer, pts []Point) error {
	data, err := csvutil.Marshal(pts)
	if err != nil {
		return eris.Wrap(err, "spatial: marshal points")
	}
	_, err = w.Write(data)
	return eris.Wrap(err, "spatial: write points")
}
