package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(zap.NewNop(), sqlx.NewDb(db, "sqlmock"), 5*time.Second), mock
}

func TestGetCursor_Found(t *testing.T) {
	s, mock := newMockStore(t)

	watermark := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT watermark FROM cursors").
		WithArgs("0xabc", "fill").
		WillReturnRows(sqlmock.NewRows([]string{"watermark"}).AddRow(watermark))

	got, ok, err := s.GetCursor(context.Background(), "0xabc", "fill")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(watermark))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCursor_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT watermark FROM cursors").
		WithArgs("0xabc", "fill").
		WillReturnRows(sqlmock.NewRows([]string{"watermark"}))

	_, ok, err := s.GetCursor(context.Background(), "0xabc", "fill")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilterNew(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT external_id FROM seen_keys").
		WillReturnRows(sqlmock.NewRows([]string{"external_id"}).AddRow("2"))

	fresh, err := s.FilterNew(context.Background(), "0xabc", "fill", []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, fresh)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFilterNew_EmptyInput(t *testing.T) {
	s, mock := newMockStore(t)

	fresh, err := s.FilterNew(context.Background(), "0xabc", "fill", nil)
	require.NoError(t, err)
	assert.Nil(t, fresh)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit(t *testing.T) {
	s, mock := newMockStore(t)

	cursor := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO seen_keys").
		WithArgs("0xabc", "fill", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO seen_keys").
		WithArgs("0xabc", "fill", "2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO cursors").
		WithArgs("0xabc", "fill", cursor).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Commit(context.Background(), "0xabc", "fill", cursor, []string{"1", "2"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_RollbackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO seen_keys").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), "0xabc", "fill", time.Now(), []string{"1"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerify_OK(t *testing.T) {
	s, mock := newMockStore(t)

	for _, table := range requiredTables {
		mock.ExpectQuery("to_regclass").
			WithArgs(table).
			WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(table))
	}
	mock.ExpectQuery("FROM cursors").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	assert.NoError(t, s.Verify(context.Background()))
}

func TestVerify_MissingTable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("to_regclass").
		WithArgs("addresses").
		WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(nil))

	err := s.Verify(context.Background())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestVerify_FutureCursor(t *testing.T) {
	s, mock := newMockStore(t)

	for _, table := range requiredTables {
		mock.ExpectQuery("to_regclass").
			WithArgs(table).
			WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(table))
	}
	mock.ExpectQuery("FROM cursors").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	err := s.Verify(context.Background())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestUpsertAddress(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO addresses").
		WithArgs("0xabc", RoleRegular, PromotedManual).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpsertAddress(context.Background(), "0xabc", RoleRegular, PromotedManual))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAddresses(t *testing.T) {
	s, mock := newMockStore(t)

	added := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM addresses").
		WillReturnRows(sqlmock.NewRows(
			[]string{"address", "role", "promoted_by", "needs_lookback", "added_at"},
		).
			AddRow("0xaaa", RoleVIP, PromotedManual, false, added).
			AddRow("0xbbb", RoleRegular, PromotedManual, false, added))

	records, err := s.ListAddresses(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "0xaaa", records[0].Address)
	assert.Equal(t, RoleVIP, records[0].Role)
}

func TestPromoteVIPs(t *testing.T) {
	s, mock := newMockStore(t)

	cluster := ClusterRecord{
		ID:            "cluster-1",
		Token:         "BTC",
		Direction:     "SHORT",
		Score:         82,
		TotalNotional: 90_000_000,
		Members:       []string{"0xaaa", "0xbbb"},
		WindowStart:   time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
		WindowEnd:     time.Date(2025, 6, 15, 10, 2, 30, 0, time.UTC),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO clusters").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 0xaaa is new to the watchlist
	mock.ExpectExec("INSERT INTO addresses").
		WithArgs("0xaaa").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE addresses").
		WithArgs("0xaaa").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// 0xbbb is a known regular, the role update takes effect
	mock.ExpectExec("INSERT INTO addresses").
		WithArgs("0xbbb").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE addresses").
		WithArgs("0xbbb").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	promoted, err := s.PromoteVIPs(context.Background(), cluster, []string{"0xaaa", "0xbbb"})
	require.NoError(t, err)
	assert.Equal(t, []string{"0xbbb"}, promoted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearLookback(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE addresses SET needs_lookback").
		WithArgs("0xabc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ClearLookback(context.Background(), "0xabc"))
}

func TestGetBaseline(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT notionals FROM baselines").
		WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows([]string{"notionals"}).AddRow([]byte("{100000,250000}")))

	notionals, err := s.GetBaseline(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, []float64{100_000, 250_000}, notionals)
}

func TestGetBaseline_None(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT notionals FROM baselines").
		WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows([]string{"notionals"}))

	notionals, err := s.GetBaseline(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Nil(t, notionals)
}

func TestSaveBaseline(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO baselines").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveBaseline(context.Background(), "0xabc", []float64{1000, 2000}))
}

func TestSavePositions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO positions").
		WithArgs("0xabc", "BTC", 500.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Flat positions are removed instead of upserted
	mock.ExpectExec("DELETE FROM positions").
		WithArgs("0xabc", "ETH").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.SavePositions(context.Background(), []PositionRecord{
		{Address: "0xabc", Token: "BTC", Size: 500},
		{Address: "0xabc", Token: "ETH", Size: 0},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePositions_Empty(t *testing.T) {
	s, mock := newMockStore(t)

	require.NoError(t, s.SavePositions(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPositions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT address, token, size FROM positions").
		WillReturnRows(sqlmock.NewRows([]string{"address", "token", "size"}).
			AddRow("0xabc", "BTC", 500.0))

	records, err := s.LoadPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 500.0, records[0].Size)
}
