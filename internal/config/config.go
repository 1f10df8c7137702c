package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data     DataConfig     `yaml:"data" mapstructure:"data"`
	Units    UnitsConfig    `yaml:"units" mapstructure:"units"`
	Explore  ExploreConfig  `yaml:"explore" mapstructure:"explore"`
	Envelope EnvelopeConfig `yaml:"envelope" mapstructure:"envelope"`
	Rhohat   RhohatConfig   `yaml:"rhohat" mapstructure:"rhohat"`
	Model    ModelConfig    `yaml:"model" mapstructure:"model"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the input files.
type DataConfig struct {
	Window       string   `yaml:"window" mapstructure:"window"`
	Points       string   `yaml:"points" mapstructure:"points"`
	CovariateDir string   `yaml:"covariate_dir" mapstructure:"covariate_dir"`
	Covariates   []string `yaml:"covariates" mapstructure:"covariates"`
}

// UnitsConfig rescales input coordinates. A scale of 1000 turns metres into km.
type UnitsConfig struct {
	Scale float64 `yaml:"scale" mapstructure:"scale"`
	Name  string  `yaml:"name" mapstructure:"name"`
}

// ExploreConfig configures quadrat counts and kernel smoothing.
type ExploreConfig struct {
	QuadratNX           int     `yaml:"quadrat_nx" mapstructure:"quadrat_nx"`
	QuadratNY           int     `yaml:"quadrat_ny" mapstructure:"quadrat_ny"`
	Bandwidth           float64 `yaml:"bandwidth" mapstructure:"bandwidth"`
	BandwidthCandidates int     `yaml:"bandwidth_candidates" mapstructure:"bandwidth_candidates"`
	DensityFloor        float64 `yaml:"density_floor" mapstructure:"density_floor"`
	Bins                int     `yaml:"bins" mapstructure:"bins"`
	Alternative         string  `yaml:"alternative" mapstructure:"alternative"`
	Edge                string  `yaml:"edge" mapstructure:"edge"`
	// GridCells sizes the density grid when no covariates are loaded.
	GridCells int `yaml:"grid_cells" mapstructure:"grid_cells"`
}

// EnvelopeConfig configures Monte Carlo envelopes for K and g.
type EnvelopeConfig struct {
	NSim    int     `yaml:"nsim" mapstructure:"nsim"`
	Seed    uint64  `yaml:"seed" mapstructure:"seed"`
	NLags   int     `yaml:"nlags" mapstructure:"nlags"`
	RMax    float64 `yaml:"rmax" mapstructure:"rmax"`
	Workers int     `yaml:"workers" mapstructure:"workers"`
	FixedN  bool    `yaml:"fixed_n" mapstructure:"fixed_n"`
	Stoyan  float64 `yaml:"stoyan" mapstructure:"stoyan"`
}

// RhohatConfig configures intensity-vs-covariate curves.
type RhohatConfig struct {
	Points    int     `yaml:"points" mapstructure:"points"`
	Bandwidth float64 `yaml:"bandwidth" mapstructure:"bandwidth"`
}

// ModelConfig configures Poisson intensity model fitting.
type ModelConfig struct {
	Formulas              []string `yaml:"formulas" mapstructure:"formulas"`
	MaxIter               int      `yaml:"max_iter" mapstructure:"max_iter"`
	Tolerance             float64  `yaml:"tolerance" mapstructure:"tolerance"`
	MinPointsPerKnot      int      `yaml:"min_points_per_knot" mapstructure:"min_points_per_knot"`
	CollinearityThreshold float64  `yaml:"collinearity_threshold" mapstructure:"collinearity_threshold"`
	ResidualSigma         float64  `yaml:"residual_sigma" mapstructure:"residual_sigma"`
	PartialPoints         int      `yaml:"partial_points" mapstructure:"partial_points"`
}

// StoreConfig configures the analysis ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PPM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.window", "data/window.geojson")
	v.SetDefault("data.points", "data/points.csv")
	v.SetDefault("data.covariate_dir", "data/covariates")
	v.SetDefault("data.covariates", []string{"Elevation", "Forest", "HFI", "Dist_Water"})
	v.SetDefault("units.scale", 1000.0)
	v.SetDefault("units.name", "km")
	v.SetDefault("explore.quadrat_nx", 5)
	v.SetDefault("explore.quadrat_ny", 5)
	v.SetDefault("explore.bandwidth", 0.0)
	v.SetDefault("explore.bandwidth_candidates", 16)
	v.SetDefault("explore.density_floor", 1e-12)
	v.SetDefault("explore.bins", 5)
	v.SetDefault("explore.alternative", "two.sided")
	v.SetDefault("explore.edge", "diggle")
	v.SetDefault("explore.grid_cells", 128)
	v.SetDefault("envelope.nsim", 19)
	v.SetDefault("envelope.seed", 42)
	v.SetDefault("envelope.nlags", 64)
	v.SetDefault("envelope.rmax", 0.0)
	v.SetDefault("envelope.workers", 4)
	v.SetDefault("envelope.fixed_n", false)
	v.SetDefault("envelope.stoyan", 0.15)
	v.SetDefault("rhohat.points", 128)
	v.SetDefault("rhohat.bandwidth", 0.0)
	v.SetDefault("model.formulas", []string{
		"Elevation + I(Elevation^2) + Forest + I(Forest^2) + HFI + I(HFI^2) + Dist_Water + I(Dist_Water^2)",
		"bs(Elevation, 5) + bs(Forest, 5) + bs(HFI, 5) + Dist_Water",
	})
	v.SetDefault("model.max_iter", 50)
	v.SetDefault("model.tolerance", 1e-8)
	v.SetDefault("model.min_points_per_knot", 5)
	v.SetDefault("model.collinearity_threshold", 0.7)
	v.SetDefault("model.residual_sigma", 0.0)
	v.SetDefault("model.partial_points", 64)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "ppm.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings needed by a command. The scope names which
// sections are checked: "data", "explore", "envelope", "model" or "all".
func (c *Config) Validate(scope string) error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	all := scope == "all"
	if all || scope == "data" || scope == "explore" || scope == "envelope" || scope == "model" {
		check(c.Data.Window != "", "data.window is required")
		check(c.Data.Points != "", "data.points is required")
		check(c.Units.Scale > 0, "units.scale must be positive")
	}
	if all || scope == "explore" {
		check(c.Explore.QuadratNX > 0 && c.Explore.QuadratNY > 0, "explore.quadrat_nx and quadrat_ny must be positive")
		check(c.Explore.Bandwidth >= 0, "explore.bandwidth must not be negative")
		check(c.Explore.DensityFloor > 0, "explore.density_floor must be positive")
		check(oneOf(c.Explore.Alternative, "", "two.sided", "less", "greater"),
			"explore.alternative must be two.sided, less or greater")
		check(oneOf(c.Explore.Edge, "", "diggle", "uniform", "none"), "explore.edge must be diggle, uniform or none")
	}
	if all || scope == "envelope" {
		check(c.Envelope.NSim > 0, "envelope.nsim must be positive")
		check(c.Envelope.NLags > 1, "envelope.nlags must be at least 2")
		check(c.Envelope.RMax >= 0, "envelope.rmax must not be negative")
	}
	if all || scope == "model" {
		check(len(c.Data.Covariates) > 0, "data.covariates must name at least one raster")
		check(c.Model.MaxIter > 0, "model.max_iter must be positive")
		check(c.Model.Tolerance > 0, "model.tolerance must be positive")
		check(c.Model.CollinearityThreshold > 0 && c.Model.CollinearityThreshold <= 1,
			"model.collinearity_threshold must be in (0, 1]")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
