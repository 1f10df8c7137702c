package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pointpattern-cli/internal/config"
	"github.com/sells-group/pointpattern-cli/internal/simulate"
)

func TestWriteSyntheticThenLoad(t *testing.T) {
	opts := simulate.DefaultSynthetic()
	opts.Cells = 16
	opts.Expected = 200
	syn, err := simulate.Generate(opts)
	require.NoError(t, err)

	dir := t.TempDir()
	dc, err := WriteSynthetic(dir, syn)
	require.NoError(t, err)
	assert.Equal(t, []string{"Elevation", "Forest", "HFI", "Dist_Water"}, dc.Covariates)

	ds, err := Load(dc, config.UnitsConfig{Scale: 1000, Name: "km"})
	require.NoError(t, err)

	assert.Equal(t, syn.Pattern.N(), ds.Pattern.N())
	assert.Equal(t, 0, ds.Report.OutsideWindow)
	assert.InDelta(t, 200*200, ds.Pattern.Window.Area(), 1e-6)
	assert.Equal(t, "km", ds.Units)

	elev, err := ds.Covariate("Elevation")
	require.NoError(t, err)
	assert.InDelta(t, 12.5, elev.CellSize, 1e-9)
	assert.Equal(t, 16*16, elev.Defined())
	got := elev.At(ds.Pattern.Points[0].X, ds.Pattern.Points[0].Y)
	want := syn.Covariates["Elevation"].At(syn.Pattern.Points[0].X, syn.Pattern.Points[0].Y)
	assert.InDelta(t, want, got, 1e-9)

	_, err = ds.Covariate("Rainfall")
	assert.Error(t, err)
}

func TestLoad_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(config.DataConfig{Window: dir + "/none.geojson", Points: dir + "/none.csv"}, config.UnitsConfig{Scale: 1})
	assert.Error(t, err)
}
