package raster

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ReadASCIIGrid parses an ESRI ASCII grid. The file lists rows from north to
// south; the returned raster stores row 0 as the southernmost row.
func ReadASCIIGrid(r io.Reader, name string) (*Raster, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)

	header := map[string]float64{}
	var pending string
	for sc.Scan() {
		tok := sc.Text()
		key := strings.ToLower(tok)
		if !isHeaderKey(key) {
			pending = tok
			break
		}
		if !sc.Scan() {
			return nil, eris.Errorf("raster: %s: header %s has no value", name, tok)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "raster: %s: header %s", name, tok)
		}
		header[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "raster: %s: scan", name)
	}

	ncol, okc := header["ncols"]
	nrow, okr := header["nrows"]
	cell, okz := header["cellsize"]
	if !okc || !okr || !okz {
		return nil, eris.Errorf("raster: %s: header needs ncols, nrows and cellsize", name)
	}
	for key, v := range map[string]float64{"ncols": ncol, "nrows": nrow} {
		if v != math.Trunc(v) || v < 1 || v > math.MaxInt32 {
			return nil, eris.Errorf("raster: %s: header %s must be a positive integer, got %v", name, key, v)
		}
	}
	xmin, okx := header["xllcorner"]
	if !okx {
		xc, ok := header["xllcenter"]
		if !ok {
			return nil, eris.Errorf("raster: %s: header needs xllcorner or xllcenter", name)
		}
		xmin = xc - cell/2
	}
	ymin, oky := header["yllcorner"]
	if !oky {
		yc, ok := header["yllcenter"]
		if !ok {
			return nil, eris.Errorf("raster: %s: header needs yllcorner or yllcenter", name)
		}
		ymin = yc - cell/2
	}
	nodata, hasNodata := header["nodata_value"]

	g, err := NewGrid(int(ncol), int(nrow), xmin, ymin, cell)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: %s", name)
	}
	out := New(name, g)

	parse := func(k int, tok string) error {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return eris.Wrapf(err, "raster: %s: value %d", name, k)
		}
		if hasNodata && v == nodata {
			v = math.NaN()
		}
		fileRow, col := k/g.NCol, k%g.NCol
		out.Values[(g.NRow-1-fileRow)*g.NCol+col] = v
		return nil
	}

	k := 0
	if pending != "" {
		if err := parse(k, pending); err != nil {
			return nil, err
		}
		k++
	}
	for sc.Scan() {
		if k >= g.Len() {
			return nil, eris.Errorf("raster: %s: more than %d values", name, g.Len())
		}
		if err := parse(k, sc.Text()); err != nil {
			return nil, err
		}
		k++
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "raster: %s: scan", name)
	}
	if k != g.Len() {
		return nil, eris.Errorf("raster: %s: expected %d values, got %d", name, g.Len(), k)
	}
	return out, nil
}

func isHeaderKey(k string) bool {
	switch k {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "nodata_value":
		return true
	}
	return false
}

// WriteASCIIGrid writes r as an ESRI ASCII grid with NODATA -9999.
func WriteASCIIGrid(w io.Writer, r *Raster) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\nnrows %d\nxllcorner %s\nyllcorner %s\ncellsize %s\nNODATA_value -9999\n",
		r.NCol, r.NRow, fmtFloat(r.XMin), fmtFloat(r.YMin), fmtFloat(r.CellSize))
	for row := r.NRow - 1; row >= 0; row-- {
		for col := 0; col < r.NCol; col++ {
			if col > 0 {
				_ = bw.WriteByte(' ')
			}
			v := r.Values[row*r.NCol+col]
			if math.IsNaN(v) {
				_, _ = bw.WriteString("-9999")
			} else {
				_, _ = bw.WriteString(fmtFloat(v))
			}
		}
		_ = bw.WriteByte('\n')
	}
	return eris.Wrap(bw.Flush(), "raster: write grid")
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// LoadFile reads a single .asc raster; the raster takes the file's base name.
func LoadFile(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ReadASCIIGrid(f, name)
}

// LoadCovariates reads <dir>/<name>.asc for each name and checks that all
// rasters share one grid.
func LoadCovariates(dir string, names []string) (Set, error) {
	log := zap.L().With(zap.String("component", "raster.loader"), zap.String("dir", dir))
	set := make(Set, len(names))
	for _, name := range names {
		r, err := LoadFile(filepath.Join(dir, name+".asc"))
		if err != nil {
			return nil, err
		}
		r.Name = name
		set[name] = r
		log.Debug("covariate loaded",
			zap.String("name", name),
			zap.Int("ncol", r.NCol),
			zap.Int("nrow", r.NRow),
			zap.Int("defined", r.Defined()),
		)
	}
	if _, err := set.Grid(); err != nil {
		return nil, err
	}
	return set, nil
}
