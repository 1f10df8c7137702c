package analysis

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pointpattern-cli/internal/config"
	"github.com/sells-group/pointpattern-cli/internal/dataset"
	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/secondorder"
	"github.com/sells-group/pointpattern-cli/internal/simulate"
)

// Curve is an envelope with its global deviation test.
type Curve struct {
	Envelope *secondorder.EnvelopeResult `json:"envelope" yaml:"envelope"`
	Test     *secondorder.GlobalTest     `json:"test" yaml:"test"`
}

// SecondOrderResult holds the K and pair correlation envelopes against one
// reference process.
type SecondOrderResult struct {
	// Inhomogeneous is true when the reference is an inhomogeneous Poisson
	// process with a supplied intensity surface.
	Inhomogeneous bool      `json:"inhomogeneous" yaml:"inhomogeneous"`
	K             *Curve    `json:"k" yaml:"k"`
	L             []float64 `json:"l" yaml:"l"`
	PCF           *Curve    `json:"pcf" yaml:"pcf"`
}

// reference is the null process envelopes are simulated from: CSR at the
// observed intensity, or thinning of surface when one is given.
func reference(ds *dataset.Dataset, surface *raster.Raster, fixedN bool) simulate.Simulator {
	p := ds.Pattern
	if surface != nil {
		return simulate.Thinned{Window: p.Window, Surface: surface}
	}
	return simulate.CSR{Window: p.Window, Lambda: float64(p.N()) / p.Window.Area(), N: p.N(), FixedN: fixedN}
}

func envelopeOptions(cfg config.EnvelopeConfig) secondorder.EnvelopeOptions {
	return secondorder.EnvelopeOptions{NSim: cfg.NSim, Seed: cfg.Seed, Workers: cfg.Workers}
}

func runCurve(ctx context.Context, ds *dataset.Dataset, stat secondorder.Statistic, surface *raster.Raster, cfg config.EnvelopeConfig) (*Curve, error) {
	env, err := secondorder.Envelope(ctx, ds.Pattern, stat, reference(ds, surface, cfg.FixedN), envelopeOptions(cfg))
	if err != nil {
		return nil, err
	}
	test, err := secondorder.GlobalRankTest(env)
	if err != nil {
		return nil, err
	}
	return &Curve{Envelope: env, Test: test}, nil
}

// KEnvelope computes Ripley's K, or the inhomogeneous K when surface is
// set, with simulation envelopes.
func KEnvelope(ctx context.Context, ds *dataset.Dataset, cfg config.EnvelopeConfig, surface *raster.Raster) (*Curve, error) {
	r, err := secondorder.Lags(ds.Pattern.Window, cfg.RMax, cfg.NLags)
	if err != nil {
		return nil, err
	}
	return runCurve(ctx, ds, secondorder.KFunction{R: r, Intensity: surface}, surface, cfg)
}

// PCFEnvelope computes the pair correlation function, or its inhomogeneous
// version when surface is set, with simulation envelopes.
func PCFEnvelope(ctx context.Context, ds *dataset.Dataset, cfg config.EnvelopeConfig, surface *raster.Raster) (*Curve, error) {
	r, err := secondorder.Lags(ds.Pattern.Window, cfg.RMax, cfg.NLags)
	if err != nil {
		return nil, err
	}
	// g(0) is undefined; start the lags one step in.
	if len(r) > 2 && r[0] == 0 {
		r = r[1:]
	}
	stat := secondorder.PairCorrelation{R: r, Intensity: surface, Stoyan: cfg.Stoyan}
	return runCurve(ctx, ds, stat, surface, cfg)
}

// SecondOrder runs both K and pair correlation envelopes.
func SecondOrder(ctx context.Context, ds *dataset.Dataset, cfg config.EnvelopeConfig, surface *raster.Raster) (*SecondOrderResult, error) {
	k, err := KEnvelope(ctx, ds, cfg, surface)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: K envelope")
	}
	g, err := PCFEnvelope(ctx, ds, cfg, surface)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: pcf envelope")
	}
	return &SecondOrderResult{
		Inhomogeneous: surface != nil,
		K:             k,
		L:             secondorder.LTransform(k.Envelope.Observed),
		PCF:           g,
	}, nil
}
