package slowlog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ccfos/rds-slowsql-alert/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pagedQuerier struct {
	pages []*QueryPage
	err   error
	reqs  []QueryRequest
}

func (q *pagedQuerier) QuerySlowLogs(ctx context.Context, req QueryRequest) (*QueryPage, error) {
	q.reqs = append(q.reqs, req)
	if q.err != nil && len(q.reqs) == len(q.pages) {
		return nil, q.err
	}
	return q.pages[len(q.reqs)-1], nil
}

func TestQueryFetcherPaginates(t *testing.T) {
	ts := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	api := &pagedQuerier{pages: []*QueryPage{
		{Records: []models.SlowQueryRecord{{Timestamp: ts, SqlText: "select 1"}}, Total: 2, NextPageToken: "2"},
		{Records: []models.SlowQueryRecord{{Timestamp: ts, SqlText: "select 2", SqlHash: "given"}}, Total: 2},
	}}
	w := Window{Start: ts.Add(-time.Minute), End: ts}

	records, total, err := NewQueryFetcher(api, 0).Fetch(context.Background(), "rm-1", "orders", w)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, records, 2)
	assert.NotEmpty(t, records[0].SqlHash)
	assert.Equal(t, "given", records[1].SqlHash)

	require.Len(t, api.reqs, 2)
	assert.Equal(t, "", api.reqs[0].PageToken)
	assert.Equal(t, "2", api.reqs[1].PageToken)
	assert.Equal(t, "orders", api.reqs[1].DBName)
	assert.Equal(t, w, api.reqs[1].Window)
}

func TestQueryFetcherContinuesPastEmptyPage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	// 第一页的记录全部因时间无法解析被适配器丢弃，但云端仍有下一页
	api := &pagedQuerier{pages: []*QueryPage{
		{Total: 3, NextPageToken: "2"},
		{Records: []models.SlowQueryRecord{{Timestamp: ts, SqlText: "select 3"}}, Total: 3},
	}}

	records, total, err := NewQueryFetcher(api, 0).Fetch(context.Background(), "rm-1", "", Window{Start: ts.Add(-time.Minute), End: ts})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, records, 1)
	assert.Equal(t, "select 3", records[0].SqlText)
	assert.Len(t, api.reqs, 2)
}

func TestQueryFetcherErrorReturnsNoRecords(t *testing.T) {
	api := &pagedQuerier{
		pages: []*QueryPage{{Records: []models.SlowQueryRecord{{SqlText: "x"}}, NextPageToken: "2"}, nil},
		err:   errors.New("throttled"),
	}

	records, _, err := NewQueryFetcher(api, 0).Fetch(context.Background(), "rm-1", "", Window{})
	assert.ErrorContains(t, err, "throttled")
	assert.Nil(t, records)
}

func TestQueryFetcherPageCap(t *testing.T) {
	page := &QueryPage{Records: []models.SlowQueryRecord{{SqlText: "x"}}, NextPageToken: "more"}
	api := &pagedQuerier{pages: []*QueryPage{page, page, page, page}}

	records, _, err := NewQueryFetcher(api, 3).Fetch(context.Background(), "rm-1", "", Window{})
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Len(t, api.reqs, 3)
}

func TestFileFetcherKeepsOneFilePerInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "content of %s", r.URL.Path)
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "slowlog_ins-2__other.log"), []byte("x"), 0644))

	f := NewFileFetcher(dir, 5*time.Second)
	first, err := f.Download(context.Background(), "ins-1", srv.URL+"/obs/a.log?sig=1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "slowlog_ins-1__a.log"), first)

	second, err := f.Download(context.Background(), "ins-1", srv.URL+"/obs/b.log")
	require.NoError(t, err)

	_, err = os.Stat(first)
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "content of /obs/b.log", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"slowlog_ins-1__b.log", "slowlog_ins-2__other.log"}, names)
}

func TestFileFetcherKeepsFilesOfSimilarInstanceIds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "x")
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFileFetcher(dir, 5*time.Second)

	other, err := f.Download(context.Background(), "a__b", srv.URL+"/obs/b.log")
	require.NoError(t, err)
	_, err = f.Download(context.Background(), "a", srv.URL+"/obs/a1.log")
	require.NoError(t, err)
	mine, err := f.Download(context.Background(), "a", srv.URL+"/obs/a2.log")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{filepath.Base(other), filepath.Base(mine)}, names)
}

func TestFileInstanceSegment(t *testing.T) {
	seg, ok := fileInstanceSegment("slowlog_a--b__x__y.log")
	assert.True(t, ok)
	assert.Equal(t, "a--b", seg)

	_, ok = fileInstanceSegment("slowlog_download.log")
	assert.False(t, ok)
	_, ok = fileInstanceSegment("other_a__x.log")
	assert.False(t, ok)
}

func TestFileFetcherBadStatusLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusForbidden)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path, err := NewFileFetcher(dir, time.Second).Download(context.Background(), "ins-1", srv.URL+"/a.log")
	assert.Error(t, err)
	assert.Empty(t, path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalFileName(t *testing.T) {
	now := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "slowlog_ins-1__x.log", LocalFileName("ins-1", "https://h/p/x.log?a=b", now))
	assert.Equal(t, "slowlog_ins-1__slowlog_download_20240501_020000", LocalFileName("ins-1", "https://h", now))
	assert.Equal(t, "slowlog_a-b__x.log", LocalFileName("a:b", "https://h/x.log", now))
	assert.Equal(t, "slowlog_a--b__x.log", LocalFileName("a__b", "https://h/x.log", now))
}
