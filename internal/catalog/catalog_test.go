package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	e := Entry{
		Article: domain.Article{
			ID: "2401.00001v1", Source: "arxiv", Title: "Charts",
			Authors:   []string{"Ada Lovelace", "Alan Turing"},
			Published: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Path:      "articles/arxiv_downloads/2401.00001v1.pdf",
		},
		Status: StatusDownloaded,
	}
	require.NoError(t, c.Upsert(ctx, e))

	got, err := c.Get(ctx, "arxiv", "2401.00001v1")
	require.NoError(t, err)
	assert.Equal(t, e.Title, got.Title)
	assert.Equal(t, e.Authors, got.Authors)
	assert.True(t, e.Published.Equal(got.Published))
	assert.Equal(t, StatusDownloaded, got.Status)

	e.Status = StatusFailed
	e.Error = "HTTP 503"
	require.NoError(t, c.Upsert(ctx, e))
	got, err = c.Get(ctx, "arxiv", "2401.00001v1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "HTTP 503", got.Error)

	_, err = c.Get(ctx, "osf", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	for _, e := range []Entry{
		{Article: domain.Article{ID: "b", Source: "osf"}, Status: StatusExcluded},
		{Article: domain.Article{ID: "z", Source: "arxiv"}, Status: StatusDownloaded},
		{Article: domain.Article{ID: "a", Source: "osf"}, Status: StatusDownloaded},
	} {
		require.NoError(t, c.Upsert(ctx, e))
	}

	all, err := c.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"z", "a", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})

	osf, err := c.List(ctx, Filter{Source: "osf", Status: StatusDownloaded})
	require.NoError(t, err)
	require.Len(t, osf, 1)
	assert.Equal(t, "a", osf[0].ID)

	counts, err := c.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusDownloaded: 2, StatusExcluded: 1}, counts)
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	require.NoError(t, c.Upsert(ctx, Entry{
		Article: domain.Article{
			ID: "abc12", Source: "osf", Title: "A, B", Authors: []string{"X", "Y"},
			License: "CC-By Attribution 4.0 International", Published: time.Date(2023, 5, 6, 0, 0, 0, 0, time.UTC),
		},
		Status: StatusDownloaded,
	}))

	path := filepath.Join(t.TempDir(), "articles.csv")
	require.NoError(t, c.ExportCSV(ctx, path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"id,source,title,date,doi,peer_reviewed_doi,authors,license,source_url,download_url,path,status,error\n"+
			"abc12,osf,\"A, B\",2023-05-06,,,X; Y,CC-By Attribution 4.0 International,,,,downloaded,\n",
		string(raw))
}

func TestUpsertRequiresKey(t *testing.T) {
	c := openTest(t)
	assert.Error(t, c.Upsert(context.Background(), Entry{Status: StatusFailed}))
}
