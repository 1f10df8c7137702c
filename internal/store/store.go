// Package store keeps a ledger of analysis runs: each fitted intensity model
// and each model comparison, so the refit history can be reviewed later.
package store

import (
	"context"
	"encoding/json"
	"math"
	"time"
)

// Run is one invocation of an analysis over a dataset.
type Run struct {
	ID        string    `json:"id" yaml:"id"`
	Dataset   string    `json:"dataset" yaml:"dataset"`
	Units     string    `json:"units" yaml:"units"`
	Points    int       `json:"points" yaml:"points"`
	Area      float64   `json:"area" yaml:"area"`
	Seed      uint64    `json:"seed" yaml:"seed"`
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Coefficient is one fitted coefficient with its standard error.
type Coefficient struct {
	Name     string  `json:"name" yaml:"name"`
	Estimate float64 `json:"estimate" yaml:"estimate"`
	SE       float64 `json:"se" yaml:"se"`
}

// FitRecord is a fitted model as stored in the ledger.
type FitRecord struct {
	ID           string        `json:"id" yaml:"id"`
	RunID        string        `json:"run_id" yaml:"run_id"`
	Formula      string        `json:"formula" yaml:"formula"`
	Coefficients []Coefficient `json:"coefficients" yaml:"coefficients"`
	LogLik       float64       `json:"loglik" yaml:"loglik"`
	AIC          float64       `json:"aic" yaml:"aic"`
	DF           int           `json:"df" yaml:"df"`
	Iterations   int           `json:"iterations" yaml:"iterations"`
	Converged    bool          `json:"converged" yaml:"converged"`
	Warnings     []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
}

// ComparisonRecord is a likelihood-ratio comparison of two nested fits.
type ComparisonRecord struct {
	ID        string    `json:"id" yaml:"id"`
	RunID     string    `json:"run_id" yaml:"run_id"`
	Nested    string    `json:"nested" yaml:"nested"`
	Richer    string    `json:"richer" yaml:"richer"`
	Statistic float64   `json:"statistic" yaml:"statistic"`
	DF        int       `json:"df" yaml:"df"`
	PValue    float64   `json:"p_value" yaml:"p_value"`
	DeltaAIC  float64   `json:"delta_aic" yaml:"delta_aic"`
	Preferred string    `json:"preferred" yaml:"preferred"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Dataset string `json:"dataset,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis ledger.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run Run) (*Run, error)
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Results. Save* assign ID and CreatedAt.
	SaveFit(ctx context.Context, fit *FitRecord) error
	SaveComparison(ctx context.Context, cmp *ComparisonRecord) error
	ListFits(ctx context.Context, runID string) ([]FitRecord, error)
	ListComparisons(ctx context.Context, runID string) ([]ComparisonRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

type coefficientJSON struct {
	Name     string   `json:"name"`
	Estimate float64  `json:"estimate"`
	SE       *float64 `json:"se"`
}

// MarshalJSON writes an undefined standard error as null.
func (c Coefficient) MarshalJSON() ([]byte, error) {
	out := coefficientJSON{Name: c.Name, Estimate: c.Estimate}
	if !math.IsNaN(c.SE) && !math.IsInf(c.SE, 0) {
		se := c.SE
		out.SE = &se
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a null standard error as NaN.
func (c *Coefficient) UnmarshalJSON(b []byte) error {
	var in coefficientJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	c.Name, c.Estimate, c.SE = in.Name, in.Estimate, math.NaN()
	if in.SE != nil {
		c.SE = *in.SE
	}
	return nil
}
