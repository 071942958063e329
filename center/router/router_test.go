package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ccfos/rds-slowsql-alert/center/slowlog"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, rt *Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rt.Engine().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	board := slowlog.NewStatusBoard("huawei", "export", nil)
	rt := New(board, time.Minute)

	base := time.Now()
	rt.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, rt, "/api/v1/healthz").Code)

	board.Update("c1", base.Add(90*time.Second), nil)
	assert.Equal(t, http.StatusOK, serve(t, rt, "/api/v1/healthz").Code)
}

func TestStatus(t *testing.T) {
	cursors := slowlog.NewCursorStore(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	board := slowlog.NewStatusBoard("huawei", "export", cursors)
	board.Update("c1", time.Now(), []slowlog.Outcome{
		{CycleId: "c1", InstanceId: "ins-1", Stage: slowlog.StageDone, Found: 3, New: 2, Delivered: 2},
	})
	rt := New(board, time.Minute)

	w := serve(t, rt, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Dat slowlog.StatusSnapshot `json:"dat"`
		Err string                 `json:"err"`
	}
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Err)
	assert.Equal(t, "huawei", body.Dat.Provider)
	assert.Equal(t, int64(1), body.Dat.Cycles)
	require.Len(t, body.Dat.Units, 1)
	assert.Equal(t, 2, body.Dat.Units[0].Delivered)
}

func TestMetricsAndProviders(t *testing.T) {
	rt := New(nil, time.Minute)

	w := serve(t, rt, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w = serve(t, rt, "/api/v1/providers")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aliyun")

	assert.Equal(t, http.StatusOK, serve(t, rt, "/api/v1/healthz").Code)
}
