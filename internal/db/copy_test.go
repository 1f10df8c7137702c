package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "fit_coefficients", []string{"fit_id", "name"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"fit_coefficients"}, []string{"fit_id", "name"}).WillReturnResult(3)

	rows := [][]any{{"f1", "(Intercept)"}, {"f1", "Elevation"}, {"f1", "Forest"}}
	n, err := CopyFrom(context.Background(), mock, "fit_coefficients", []string{"fit_id", "name"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_ShortWrite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"fit_coefficients"}, []string{"fit_id"}).WillReturnResult(1)

	_, err = CopyFrom(context.Background(), mock, "fit_coefficients", []string{"fit_id"}, [][]any{{"a"}, {"b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrote 1 of 2")
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"fit_coefficients"}, []string{"fit_id"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "fit_coefficients", []string{"fit_id"}, [][]any{{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO fit_coefficients")
	assert.NoError(t, mock.ExpectationsWereMet())
}
