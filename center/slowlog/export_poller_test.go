package slowlog

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExporter 依次返回预设的响应，超出后重复最后一个
type scriptedExporter struct {
	responses []*ExportStatus
	err       error
	calls     int
}

func (s *scriptedExporter) DownloadSlowLog(ctx context.Context, instanceId string) (*ExportStatus, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func TestExportPollerFinishes(t *testing.T) {
	api := &scriptedExporter{responses: []*ExportStatus{
		{Status: "PENDING"},
		{Status: "FINISH", Files: []ExportFile{{Status: "FAILED", FileLink: "https://obs/a.log"}}},
		{Status: "FINISH", Files: []ExportFile{
			{Status: "SUCCESS", FileLink: ""},
			{Status: "SUCCESS", FileLink: "https://obs.example.com/slowlog/ins-1.log?sig=1"},
		}},
	}}
	sleeper := &recordingSleeper{}

	job := NewExportPoller(api, 10, 5*time.Second).WithSleeper(sleeper.sleep).Poll(context.Background(), "ins-1")

	require.NoError(t, job.Err)
	assert.Equal(t, ExportFinished, job.Status)
	assert.Equal(t, "https://obs.example.com/slowlog/ins-1.log?sig=1", job.DownloadLink)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeper.waits)
}

func TestExportPollerFailedStatus(t *testing.T) {
	api := &scriptedExporter{responses: []*ExportStatus{{Status: "PENDING"}, {Status: "failed"}}}
	sleeper := &recordingSleeper{}

	job := NewExportPoller(api, 10, time.Second).WithSleeper(sleeper.sleep).Poll(context.Background(), "ins-1")

	assert.Equal(t, ExportFailed, job.Status)
	assert.Empty(t, job.DownloadLink)
	assert.True(t, errors.Is(job.Err, ErrExportFailed))
	assert.Equal(t, 2, api.calls)
}

func TestExportPollerRetriesExhausted(t *testing.T) {
	api := &scriptedExporter{responses: []*ExportStatus{{Status: "RUNNING"}}}
	sleeper := &recordingSleeper{}

	job := NewExportPoller(api, 3, time.Second).WithSleeper(sleeper.sleep).Poll(context.Background(), "ins-1")

	assert.Equal(t, ExportFailed, job.Status)
	assert.Empty(t, job.DownloadLink)
	assert.True(t, errors.Is(job.Err, ErrExportTimeout))
	assert.Equal(t, 3, api.calls)
	assert.Equal(t, 3, job.Attempts)
	// 最后一次之后不再等待
	assert.Len(t, sleeper.waits, 2)
}

func TestExportPollerAPIError(t *testing.T) {
	api := &scriptedExporter{err: errors.New("connection refused")}

	job := NewExportPoller(api, 10, time.Second).WithSleeper((&recordingSleeper{}).sleep).Poll(context.Background(), "ins-1")

	assert.Equal(t, ExportFailed, job.Status)
	assert.ErrorContains(t, job.Err, "connection refused")
	assert.Equal(t, 1, api.calls)
}

func TestExportPollerCancelledWhileWaiting(t *testing.T) {
	api := &scriptedExporter{responses: []*ExportStatus{{Status: "PENDING"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := NewExportPoller(api, 10, time.Hour).Poll(ctx, "ins-1")

	assert.Equal(t, ExportFailed, job.Status)
	assert.True(t, errors.Is(job.Err, context.Canceled))
	assert.Equal(t, 1, api.calls)
}

func TestPickDownloadLink(t *testing.T) {
	assert.Empty(t, pickDownloadLink(nil))
	assert.Empty(t, pickDownloadLink([]ExportFile{{Status: "SUCCESS", FileLink: "not a url"}}))
	assert.Empty(t, pickDownloadLink([]ExportFile{{Status: "SUCCESS", FileLink: "ftp://host/file"}}))
	assert.Equal(t, "http://host/file", pickDownloadLink([]ExportFile{{Status: " success ", FileLink: " http://host/file "}}))
}
