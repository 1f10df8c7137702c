package spatial

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// LoadWindow reads a window polygon from a shapefile (.shp), GeoJSON
// (.geojson, .json) or WKT (.wkt) file. All polygon records are merged.
func LoadWindow(path string) (*Window, error) {
	log := zap.L().With(zap.String("component", "spatial.loader"), zap.String("path", path))

	var (
		mp  *geom.MultiPolygon
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		mp, err = readShapefileWindow(path)
	case ".geojson", ".json":
		mp, err = readGeoJSONWindow(path)
	case ".wkt":
		mp, err = readWKTWindow(path)
	default:
		return nil, eris.Errorf("spatial: unsupported window format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	w, err := NewWindow(mp)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: window %s", path)
	}
	log.Debug("window loaded", zap.Int("polygons", mp.NumPolygons()), zap.Float64("area", w.Area()))
	return w, nil
}

// readShapefileWindow merges every polygon record of a shapefile. Shapefile
// shells are clockwise and holes counter-clockwise; a counter-clockwise ring
// with no preceding shell is treated as a shell.
func readShapefileWindow(path string) (*geom.MultiPolygon, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	mp := geom.NewMultiPolygon(geom.XY)
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			continue
		}
		if err := appendShapefilePolygon(mp, poly); err != nil {
			return nil, err
		}
	}
	if mp.NumPolygons() == 0 {
		return nil, eris.Errorf("spatial: shapefile %s has no polygon records", path)
	}
	return mp, nil
}

func appendShapefilePolygon(mp *geom.MultiPolygon, p *shp.Polygon) error {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var current *geom.Polygon
	flush := func() error {
		if current == nil {
			return nil
		}
		if err := mp.Push(current); err != nil {
			return eris.Wrap(err, "spatial: push polygon")
		}
		current = nil
		return nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		flat := make([]float64, 0, 2*(end-start+1))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		flat = closeRing(flat)
		if len(flat) < 8 {
			continue
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		isShell := !xy.IsRingCounterClockwise(geom.XY, flat)
		if isShell || current == nil {
			if err := flush(); err != nil {
				return err
			}
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			return eris.Wrapf(err, "spatial: push ring %d", i)
		}
	}
	return flush()
}

func readGeoJSONWindow(path string) (*geom.MultiPolygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: read %s", path)
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, eris.Wrapf(err, "spatial: parse geojson %s", path)
	}

	var geoms []geom.T
	switch probe.Type {
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrapf(err, "spatial: parse feature collection %s", path)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrapf(err, "spatial: parse feature %s", path)
		}
		geoms = append(geoms, f.Geometry)
	default:
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrapf(err, "spatial: parse geometry %s", path)
		}
		geoms = append(geoms, g)
	}
	return mergePolygons(geoms)
}

func readWKTWindow(path string) (*geom.MultiPolygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: read %s", path)
	}
	g, err := wkt.Unmarshal(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: parse wkt %s", path)
	}
	return mergePolygons([]geom.T{g})
}

// mergePolygons flattens polygons and multipolygons into one XY multipolygon.
func mergePolygons(geoms []geom.T) (*geom.MultiPolygon, error) {
	mp := geom.NewMultiPolygon(geom.XY)
	push := func(p *geom.Polygon) error {
		out := geom.NewPolygon(geom.XY)
		for j := 0; j < p.NumLinearRings(); j++ {
			flat := closeRing(stripToXY(p.LinearRing(j).FlatCoords(), p.Stride()))
			if err := out.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
				return eris.Wrap(err, "spatial: push ring")
			}
		}
		return eris.Wrap(mp.Push(out), "spatial: push polygon")
	}

	for _, g := range geoms {
		switch t := g.(type) {
		case *geom.Polygon:
			if err := push(t); err != nil {
				return nil, err
			}
		case *geom.MultiPolygon:
			for i := 0; i < t.NumPolygons(); i++ {
				if err := push(t.Polygon(i)); err != nil {
					return nil, err
				}
			}
		case nil:
			continue
		default:
			return nil, eris.Errorf("spatial: window geometry must be polygonal, got %T", g)
		}
	}
	if mp.NumPolygons() == 0 {
		return nil, eris.New("spatial: no polygon geometry found")
	}
	return mp, nil
}

func stripToXY(flat []float64, stride int) []float64 {
	if stride == 2 {
		return append([]float64(nil), flat...)
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

// closeRing repeats the first vertex at the end when the ring is open.
func closeRing(flat []float64) []float64 {
	n := len(flat)
	if n < 4 {
		return flat
	}
	if flat[0] != flat[n-2] || flat[1] != flat[n-1] {
		flat = append(flat, flat[0], flat[1])
	}
	return flat
}
