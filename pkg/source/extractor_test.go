package source

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/etlerrors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/models"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/registry"
)

func collectBatches(batches <-chan *models.ExtractionBatch, errs <-chan error) ([]*models.ExtractionBatch, error) {
	var out []*models.ExtractionBatch
	for b := range batches {
		out = append(out, b)
	}
	return out, <-errs
}

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestExtractIncremental(t *testing.T) {
	g, mock := openGuard(t)
	e := NewExtractor(g, zaptest.NewLogger(t))

	tc := &registry.TableConfig{
		Name:                     "patient",
		Strategy:                 registry.StrategyIncremental,
		WatermarkColumn:          "DateTStamp",
		SecondaryWatermarkColumn: "SecDateTEntry",
		PrimaryKey:               "PatNum",
		BatchSize:                2,
	}
	last := ts("2024-01-01 00:00:00")

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM `patient` WHERE `DateTStamp` > ? OR `SecDateTEntry` > ? ORDER BY `DateTStamp`")).
		WithArgs(last, last).
		WillReturnRows(sqlmock.NewRows([]string{"PatNum", "LName", "DateTStamp", "SecDateTEntry"}).
			AddRow(int64(1), "Smith", ts("2024-01-02 08:00:00"), ts("2023-06-01 00:00:00")).
			AddRow(int64(2), "Jones", ts("2024-01-02 09:30:00"), ts("2023-07-01 00:00:00")).
			AddRow(int64(3), "Nguyen", ts("2024-01-03 10:00:00"), ts("2024-01-03 10:00:00")))

	batches, err := collectBatches(e.Extract(context.Background(), tc, &last))
	require.NoError(t, err)
	require.Len(t, batches, 2)

	assert.Equal(t, 2, batches[0].Len())
	assert.Equal(t, 1, batches[1].Len())
	assert.Equal(t, []string{"PatNum", "LName", "DateTStamp", "SecDateTEntry"}, batches[0].Columns)

	// The maximum watermark of each batch spans both watermark columns.
	assert.Equal(t, ts("2024-01-02 09:30:00"), batches[0].MaxWatermark)
	assert.Equal(t, ts("2024-01-03 10:00:00"), batches[1].MaxWatermark)

	name, ok := batches[0].Records[0].GetData("LName")
	require.True(t, ok)
	assert.Equal(t, "Smith", name)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractSecondaryWatermarkCanLead(t *testing.T) {
	g, mock := openGuard(t)
	e := NewExtractor(g, zaptest.NewLogger(t))

	tc := &registry.TableConfig{
		Name:                     "procedurelog",
		Strategy:                 registry.StrategyIncremental,
		WatermarkColumn:          "DateTStamp",
		SecondaryWatermarkColumn: "SecDateTEntry",
		BatchSize:                100,
	}
	last := ts("2024-01-01 00:00:00")

	// A freshly inserted row whose creation time is newer than its
	// modification time still advances the watermark.
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM `procedurelog` WHERE `DateTStamp` > ? OR `SecDateTEntry` > ? ORDER BY `DateTStamp`")).
		WithArgs(last, last).
		WillReturnRows(sqlmock.NewRows([]string{"ProcNum", "DateTStamp", "SecDateTEntry"}).
			AddRow(int64(10), ts("2024-01-02 08:00:00"), ts("2024-01-05 12:00:00")))

	batches, err := collectBatches(e.Extract(context.Background(), tc, &last))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, ts("2024-01-05 12:00:00"), batches[0].MaxWatermark)
}

func TestExtractNeverSyncedScansEverything(t *testing.T) {
	g, mock := openGuard(t)
	e := NewExtractor(g, zaptest.NewLogger(t))

	tc := &registry.TableConfig{
		Name:            "patient",
		Strategy:        registry.StrategyIncremental,
		WatermarkColumn: "DateTStamp",
		PrimaryKey:      "PatNum",
		BatchSize:       100,
	}

	// No prior watermark: full scan, but watermark values are still tracked
	// so this run records a starting point.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `patient` ORDER BY `PatNum`")).
		WillReturnRows(sqlmock.NewRows([]string{"PatNum", "DateTStamp"}).
			AddRow(int64(1), ts("2024-01-02 08:00:00")).
			AddRow(int64(2), ts("2024-01-04 09:00:00")))

	batches, err := collectBatches(e.Extract(context.Background(), tc, nil))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, ts("2024-01-04 09:00:00"), batches[0].MaxWatermark)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractFullStrategy(t *testing.T) {
	g, mock := openGuard(t)
	e := NewExtractor(g, zaptest.NewLogger(t))

	tc := &registry.TableConfig{
		Name:       "definition",
		Strategy:   registry.StrategyFull,
		PrimaryKey: "DefNum",
		BatchSize:  100,
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `definition` ORDER BY `DefNum`")).
		WillReturnRows(sqlmock.NewRows([]string{"DefNum", "ItemName"}).
			AddRow(int64(1), "Adult Prophy").
			AddRow(int64(2), "Child Prophy"))

	batches, err := collectBatches(e.Extract(context.Background(), tc, nil))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.True(t, batches[0].MaxWatermark.IsZero())
}

func TestExtractDiscoversWatermarkColumns(t *testing.T) {
	g, mock := openGuard(t)
	e := NewExtractor(g, zaptest.NewLogger(t))

	tc := &registry.TableConfig{
		Name:      "claim",
		Strategy:  registry.StrategyIncremental,
		BatchSize: 100,
	}
	last := ts("2024-01-01 00:00:00")

	mock.ExpectQuery("SELECT column_name, data_type, is_nullable").
		WithArgs("claim").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
			AddRow("ClaimNum", "bigint", "NO").
			AddRow("SecDateTEntry", "datetime", "NO").
			AddRow("SecDateTEdit", "timestamp", "NO"))

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM `claim` WHERE `SecDateTEdit` > ? OR `SecDateTEntry` > ? ORDER BY `SecDateTEdit`")).
		WithArgs(last, last).
		WillReturnRows(sqlmock.NewRows([]string{"ClaimNum", "SecDateTEntry", "SecDateTEdit"}).
			AddRow(int64(7), ts("2024-01-02 08:00:00"), ts("2024-01-02 08:00:00")))

	batches, err := collectBatches(e.Extract(context.Background(), tc, &last))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractNoTimestampColumnsFallsBackToFull(t *testing.T) {
	g, mock := openGuard(t)
	e := NewExtractor(g, zaptest.NewLogger(t))

	tc := &registry.TableConfig{
		Name:       "zipcode",
		Strategy:   registry.StrategyIncremental,
		PrimaryKey: "ZipCodeNum",
		BatchSize:  100,
	}
	last := ts("2024-01-01 00:00:00")

	mock.ExpectQuery("SELECT column_name, data_type, is_nullable").
		WithArgs("zipcode").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
			AddRow("ZipCodeNum", "bigint", "NO").
			AddRow("ZipCodeDigits", "varchar", "NO"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `zipcode` ORDER BY `ZipCodeNum`")).
		WillReturnRows(sqlmock.NewRows([]string{"ZipCodeNum", "ZipCodeDigits"}).
			AddRow(int64(1), "60605"))

	batches, err := collectBatches(e.Extract(context.Background(), tc, &last))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.True(t, batches[0].MaxWatermark.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractSameWatermarkColumnNotDuplicated(t *testing.T) {
	g, mock := openGuard(t)
	e := NewExtractor(g, zaptest.NewLogger(t))

	tc := &registry.TableConfig{
		Name:                     "securitylog",
		Strategy:                 registry.StrategyIncremental,
		WatermarkColumn:          "LogDateTime",
		SecondaryWatermarkColumn: "LogDateTime",
		BatchSize:                100,
	}
	last := ts("2024-01-01 00:00:00")

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM `securitylog` WHERE `LogDateTime` > ? ORDER BY `LogDateTime`")).
		WithArgs(last).
		WillReturnRows(sqlmock.NewRows([]string{"SecurityLogNum", "LogDateTime"}).
			AddRow(int64(1), ts("2024-01-02 00:00:00")))

	_, err := collectBatches(e.Extract(context.Background(), tc, &last))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractQueryError(t *testing.T) {
	g, mock := openGuard(t)
	e := NewExtractor(g, zaptest.NewLogger(t))

	tc := &registry.TableConfig{
		Name:       "patient",
		Strategy:   registry.StrategyFull,
		PrimaryKey: "PatNum",
		BatchSize:  100,
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `patient` ORDER BY `PatNum`")).
		WillReturnError(errors.New("Error 2013: lost connection"))

	batches, err := collectBatches(e.Extract(context.Background(), tc, nil))
	require.Error(t, err)
	assert.Empty(t, batches)
	assert.True(t, etlerrors.IsRetryable(err))
}

func TestParseWatermarkValue(t *testing.T) {
	want := ts("2024-01-02 08:00:00")

	got, ok := parseWatermarkValue(want)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = parseWatermarkValue("2024-01-02 08:00:00")
	assert.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = parseWatermarkValue([]byte("2024-01-02 08:00:00"))
	assert.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = parseWatermarkValue("not a time")
	assert.False(t, ok)
	_, ok = parseWatermarkValue(int64(42))
	assert.False(t, ok)
}
