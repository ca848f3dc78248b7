package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscraper/internal/crawler"
)

func TestSaveRecordsInsertsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	records := []crawler.PageRecord{
		{
			URL:             "https://example.com/",
			Timestamp:       now,
			Title:           "Example",
			MetaDescription: "desc",
			TextContent:     "hello",
			Links:           []string{"https://example.com/a"},
			Images:          nil,
			Fields:          map[string][]string{"content": {"hello"}},
		},
		{
			URL:       "https://example.com/a",
			Timestamp: now.Add(time.Second),
			Title:     "No title",
			Tables: []crawler.Table{{
				Headers: []string{"k"},
				Rows:    []crawler.TableRow{{Values: map[string]string{"k": "v"}}},
			}},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scraped_pages").
		WithArgs(
			"run-1", "https://example.com/", now, "Example", "desc", "hello",
			[]byte(`["https://example.com/a"]`),
			[]byte(`[]`),
			[]byte(`{"content":["hello"]}`),
			[]byte(`[]`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO scraped_pages").
		WithArgs(
			"run-1", "https://example.com/a", now.Add(time.Second), "No title", "", "",
			[]byte(`[]`),
			[]byte(`[]`),
			[]byte(`{}`),
			[]byte(`[{"headers":["k"],"rows":[{"values":{"k":"v"}}]}]`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := store.SaveRecords(context.Background(), "run-1", records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordsRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "pages")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pages").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO pages").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	n, err := store.SaveRecords(context.Background(), "run-1", []crawler.PageRecord{
		{URL: "https://example.com/"},
		{URL: "https://example.com/b"},
	})
	require.Error(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordsCommitFailureSavesNothing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "pages")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pages").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	n, err := store.SaveRecords(context.Background(), "run-1", []crawler.PageRecord{{URL: "https://example.com/"}})
	require.Error(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordsEmptySkipsTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "pages")
	require.NoError(t, err)

	n, err := store.SaveRecords(context.Background(), "run-1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "pages")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS pages").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPageStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPageStoreWithPool(nil, "pages")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPageStoreWithPool(mock, "pages; DROP TABLE x")
	require.Error(t, err)

	_, err = NewPageStore(context.Background(), PageStoreConfig{})
	require.Error(t, err)

	assert.True(t, ValidTableName("scraped_pages"))
	assert.False(t, ValidTableName("1pages"))
}
