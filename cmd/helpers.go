package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pointpattern-cli/internal/dataset"
	"github.com/sells-group/pointpattern-cli/internal/report"
	"github.com/sells-group/pointpattern-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "ppm.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the ledger.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// loadDataset validates the settings the command needs and loads the
// configured inputs.
func loadDataset(scope string) (*dataset.Dataset, error) {
	if err := cfg.Validate(scope); err != nil {
		return nil, err
	}
	return dataset.Load(cfg.Data, cfg.Units)
}

// datasetName is --dataset, or the directory holding the points file.
func datasetName(cmd *cobra.Command) string {
	if name, _ := cmd.Flags().GetString("dataset"); name != "" {
		return name
	}
	return filepath.Base(filepath.Dir(cfg.Data.Points))
}

func emit(v any, text report.TextFunc) error {
	return report.Write(os.Stdout, format, v, text)
}

// export writes sheets to the --export workbook when one is named.
func export(cmd *cobra.Command, sheets ...report.Sheet) error {
	path, _ := cmd.Flags().GetString("export")
	if path == "" || len(sheets) == 0 {
		return nil
	}
	if err := report.ExportCurves(path, sheets); err != nil {
		return err
	}
	zap.L().Info("exported curves", zap.String("path", path), zap.Int("sheets", len(sheets)))
	return nil
}
