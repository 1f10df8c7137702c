package spatial

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadWindow_GeoJSONGeometry(t *testing.T) {
	path := writeFile(t, "w.geojson", `{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,5],[0,5],[0,0]]]}`)

	w, err := LoadWindow(path)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, w.Area(), 1e-9)
}

func TestLoadWindow_GeoJSONFeatureCollection(t *testing.T) {
	body := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"a"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
		{"type":"Feature","properties":{"name":"b"},"geometry":{"type":"MultiPolygon","coordinates":[[[[2,0],[4,0],[4,1],[2,1],[2,0]]]]}}
	]}`
	path := writeFile(t, "w.json", body)

	w, err := LoadWindow(path)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, w.Area(), 1e-9)
	assert.True(t, w.Contains(3, 0.5))
	assert.False(t, w.Contains(1.5, 0.5))
}

func TestLoadWindow_GeoJSONNotPolygon(t *testing.T) {
	path := writeFile(t, "w.geojson", `{"type":"Point","coordinates":[1,2]}`)

	_, err := LoadWindow(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be polygonal")
}

func TestLoadWindow_WKT(t *testing.T) {
	path := writeFile(t, "w.wkt", "POLYGON ((0 0, 6 0, 6 6, 0 6, 0 0), (1 1, 1 2, 2 2, 2 1, 1 1))\n")

	w, err := LoadWindow(path)
	require.NoError(t, err)
	assert.InDelta(t, 35.0, w.Area(), 1e-9)
	assert.False(t, w.Contains(1.5, 1.5))
}

func TestLoadWindow_UnsupportedExtension(t *testing.T) {
	_, err := LoadWindow("window.kml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported window format")
}

func TestLoadWindow_Shapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "window.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 16)}))

	// Clockwise shell with a counter-clockwise hole, as shapefiles store them.
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}},
		{{X: 2, Y: 2}, {X: 4, Y: 2}, {X: 4, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 2}},
	}))
	row := w.Write(&poly)
	require.NoError(t, w.WriteAttribute(int(row), 0, "BC"))
	w.Close()

	win, err := LoadWindow(path)
	require.NoError(t, err)
	assert.InDelta(t, 96.0, win.Area(), 1e-9)
	assert.True(t, win.Contains(5, 5))
	assert.False(t, win.Contains(3, 3))
}

func TestLoadWindow_ShapefileTwoShells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "islands.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 16)}))

	// Two clockwise rings are two shells, not a shell and a hole.
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 0, Y: 2}, {X: 2, Y: 2}, {X: 2, Y: 0}, {X: 0, Y: 0}},
		{{X: 5, Y: 0}, {X: 5, Y: 1}, {X: 6, Y: 1}, {X: 6, Y: 0}, {X: 5, Y: 0}},
	}))
	row := w.Write(&poly)
	require.NoError(t, w.WriteAttribute(int(row), 0, "FL"))
	w.Close()

	win, err := LoadWindow(path)
	require.NoError(t, err)
	assert.Equal(t, 2, win.Geometry().NumPolygons())
	assert.InDelta(t, 5.0, win.Area(), 1e-9)
	assert.True(t, win.Contains(5.5, 0.5))
}

func TestReadPoints(t *testing.T) {
	in := "id,x,y,year\n1,10.5,20,2020\n2,11,21.25,2021\n"
	pts, err := ReadPoints(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Point{{X: 10.5, Y: 20}, {X: 11, Y: 21.25}}, pts)
}

func TestReadPoints_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: "empty point table"},
		{name: "no y column", in: "X,Z\n1,2\n", want: "needs X and Y"},
		{name: "blank cell", in: "X,Y\n1,\n", want: "line 2 is missing a coordinate"},
		{name: "not a number", in: "X,Y\n1,2\nabc,3\n", want: "line 3"},
		{name: "infinite", in: "X,Y\n1,+Inf\n", want: "non-finite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPoints(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadPoints_FiltersOutsideWindow(t *testing.T) {
	w, err := RectWindow(0, 0, 10, 10)
	require.NoError(t, err)
	path := writeFile(t, "pts.csv", "X,Y\n1,1\n5,5\n20,5\n-1,3\n")

	pat, rep, err := LoadPoints(path, w)
	require.NoError(t, err)
	assert.Equal(t, 2, pat.N())
	assert.Equal(t, LoadReport{Rows: 4, Kept: 2, OutsideWindow: 2}, rep)
}

func TestWritePoints_RoundTrip(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WritePoints(&sb, []Point{{X: 1, Y: 2}, {X: 3.5, Y: 4}}))

	pts, err := ReadPoints(strings.NewReader(sb.String()))
	require.NoError(t, err)
	assert.Equal(t, []Point{{X: 1, Y: 2}, {X: 3.5, Y: 4}}, pts)
}
