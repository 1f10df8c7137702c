package secondorder

import (
	"context"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/pointpattern-cli/internal/simulate"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// EnvelopeOptions configures a Monte Carlo envelope.
type EnvelopeOptions struct {
	NSim    int
	Seed    uint64
	Workers int
}

// EnvelopeResult holds the observed curve, the theoretical curve and the
// pointwise min/max envelope of NSim simulated curves. Simulated keeps every
// simulated curve for the global test.
type EnvelopeResult struct {
	Name        string      `json:"name" yaml:"name"`
	R           []float64   `json:"r" yaml:"r"`
	Observed    []float64   `json:"observed" yaml:"observed"`
	Theoretical []float64   `json:"theoretical" yaml:"theoretical"`
	Lo          []float64   `json:"lo" yaml:"lo"`
	Hi          []float64   `json:"hi" yaml:"hi"`
	Outside     []bool      `json:"outside" yaml:"outside"`
	NSim        int         `json:"nsim" yaml:"nsim"`
	Alpha       float64     `json:"alpha" yaml:"alpha"`
	Simulated   [][]float64 `json:"-" yaml:"-"`
}

// Curves returns the number of curves held: NSim simulations plus the
// observed one.
func (e *EnvelopeResult) Curves() int { return len(e.Simulated) + 1 }

// OutsideLags returns the lags at which the observed curve leaves the
// envelope.
func (e *EnvelopeResult) OutsideLags() []float64 {
	var out []float64
	for k, o := range e.Outside {
		if o {
			out = append(out, e.R[k])
		}
	}
	return out
}

// Envelope evaluates stat on p and on opts.NSim realisations of sim. Each
// simulation draws from its own generator seeded by (Seed, index), so the
// result does not depend on scheduling. The rank-1 two-sided envelope has
// significance level 2/(NSim+1).
func Envelope(ctx context.Context, p *spatial.Pattern, stat Statistic, sim simulate.Simulator, opts EnvelopeOptions) (*EnvelopeResult, error) {
	if opts.NSim <= 0 {
		return nil, eris.Errorf("secondorder: invalid simulation count %d", opts.NSim)
	}
	log := zap.L().With(zap.String("component", "secondorder.envelope"), zap.String("stat", stat.Name()))

	r := stat.Lags()
	obs, err := stat.Evaluate(p)
	if err != nil {
		return nil, eris.Wrap(err, "secondorder: evaluate observed pattern")
	}

	sims := make([][]float64, opts.NSim)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var done atomic.Int64
	progress := rate.Sometimes{Interval: 2 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < opts.NSim; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sp, err := sim.Simulate(simulate.NewRNG(opts.Seed, uint64(i)+1))
			if err != nil {
				return eris.Wrapf(err, "secondorder: simulation %d", i)
			}
			curve, err := stat.Evaluate(sp)
			if err != nil {
				return eris.Wrapf(err, "secondorder: evaluate simulation %d", i)
			}
			sims[i] = curve
			n := done.Add(1)
			progress.Do(func() {
				log.Debug("simulations progressing", zap.Int64("done", n), zap.Int("nsim", opts.NSim))
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &EnvelopeResult{
		Name:        stat.Name(),
		R:           r,
		Observed:    obs,
		Theoretical: make([]float64, len(r)),
		Lo:          make([]float64, len(r)),
		Hi:          make([]float64, len(r)),
		Outside:     make([]bool, len(r)),
		NSim:        opts.NSim,
		Alpha:       2 / float64(opts.NSim+1),
		Simulated:   sims,
	}
	for k, rk := range r {
		res.Theoretical[k] = stat.Theoretical(rk)
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, s := range sims {
			if v := s[k]; !math.IsNaN(v) {
				lo, hi = math.Min(lo, v), math.Max(hi, v)
			}
		}
		if math.IsInf(lo, 1) {
			lo, hi = math.NaN(), math.NaN()
		}
		res.Lo[k], res.Hi[k] = lo, hi
		res.Outside[k] = !math.IsNaN(obs[k]) && !math.IsNaN(lo) && (obs[k] < lo || obs[k] > hi)
	}

	log.Info("envelope complete",
		zap.Int("nsim", opts.NSim),
		zap.Int("lags_outside", len(res.OutsideLags())),
		zap.Float64("alpha", res.Alpha),
	)
	return res, nil
}

// GlobalTest is a maximum absolute deviation test over all lags.
type GlobalTest struct {
	Statistic float64 `json:"statistic" yaml:"statistic"`
	PValue    float64 `json:"p_value" yaml:"p_value"`
	Rank      int     `json:"rank" yaml:"rank"`
}

// GlobalRankTest compares max_r |f(r) - f_theo(r)| of the observed curve with
// the same deviation of each simulated curve. The p-value is
// (1 + #{sim >= obs}) / (nsim + 1). Lags undefined on any curve are skipped.
func GlobalRankTest(e *EnvelopeResult) (*GlobalTest, error) {
	if len(e.Simulated) == 0 {
		return nil, eris.New("secondorder: envelope holds no simulated curves")
	}
	valid := make([]bool, len(e.R))
	for k := range e.R {
		valid[k] = !math.IsNaN(e.Observed[k]) && !math.IsNaN(e.Theoretical[k])
		for _, s := range e.Simulated {
			if math.IsNaN(s[k]) {
				valid[k] = false
				break
			}
		}
	}
	dev := func(curve []float64) float64 {
		var m float64
		for k, ok := range valid {
			if ok {
				m = math.Max(m, math.Abs(curve[k]-e.Theoretical[k]))
			}
		}
		return m
	}

	t := &GlobalTest{Statistic: dev(e.Observed), Rank: 1}
	for _, s := range e.Simulated {
		if dev(s) >= t.Statistic {
			t.Rank++
		}
	}
	t.PValue = float64(t.Rank) / float64(len(e.Simulated)+1)
	return t, nil
}
