// 慢SQL告警流水线 - 慢日志导出任务轮询
package slowlog

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/toolkits/pkg/logger"
)

// ExportState 导出任务状态
type ExportState string

const (
	ExportRequested ExportState = "REQUESTED"
	ExportPending   ExportState = "PENDING"
	ExportFinished  ExportState = "FINISHED"
	ExportFailed    ExportState = "FAILED"
)

// ExportFile 导出结果中的单个文件
type ExportFile struct {
	FileName string
	Status   string // SUCCESS / EXPORTING / FAILED
	FileLink string
}

// ExportStatus 导出接口的一次响应
type ExportStatus struct {
	Status string // FINISH / EXPORTING / FAILED
	Files  []ExportFile
}

// SlowLogExporter 异步导出慢日志文件的云 API
type SlowLogExporter interface {
	DownloadSlowLog(ctx context.Context, instanceId string) (*ExportStatus, error)
}

// ExportJob 单个实例在本轮中的导出任务
type ExportJob struct {
	InstanceId   string
	Status       ExportState
	DownloadLink string
	Attempts     int
	Err          error
}

func (j *ExportJob) failWith(err error) *ExportJob {
	j.Status = ExportFailed
	j.DownloadLink = ""
	j.Err = err
	return j
}

// Sleeper 可中断的等待，便于测试时注入
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext 等待 d 或 ctx 结束
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExportPoller 固定次数 × 固定间隔地轮询导出任务，直到拿到下载链接或失败
type ExportPoller struct {
	api        SlowLogExporter
	maxRetries int
	delay      time.Duration
	sleep      Sleeper
}

// NewExportPoller 创建导出任务轮询器，默认 10 次 × 5 秒
func NewExportPoller(api SlowLogExporter, maxRetries int, delay time.Duration) *ExportPoller {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	if delay < 0 {
		delay = 0
	}
	return &ExportPoller{
		api:        api,
		maxRetries: maxRetries,
		delay:      delay,
		sleep:      SleepContext,
	}
}

// WithSleeper 替换等待函数
func (p *ExportPoller) WithSleeper(s Sleeper) *ExportPoller {
	p.sleep = s
	return p
}

// Poll 驱动导出任务状态机，返回终态（FINISHED 或 FAILED）的任务
func (p *ExportPoller) Poll(ctx context.Context, instanceId string) *ExportJob {
	job := &ExportJob{InstanceId: instanceId, Status: ExportRequested}

	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		job.Attempts = attempt

		resp, err := p.api.DownloadSlowLog(ctx, instanceId)
		if err != nil {
			return job.failWith(errors.Wrapf(err, "request slow log download link of %s", instanceId))
		}
		if resp == nil {
			return job.failWith(fmt.Errorf("empty download slow log response for %s", instanceId))
		}

		job.Status = ExportPending
		switch status := strings.ToUpper(strings.TrimSpace(resp.Status)); status {
		case "FINISH", "FINISHED":
			if link := pickDownloadLink(resp.Files); link != "" {
				job.Status = ExportFinished
				job.DownloadLink = link
				return job
			}
			logger.Debugf("slow log export of %s finished without a usable file, retrying", instanceId)
		case "FAILED":
			return job.failWith(ErrExportFailed)
		}

		if attempt == p.maxRetries {
			break
		}

		logger.Infof("slow log export of %s is pending (status=%s), retry in %s (%d/%d)",
			instanceId, resp.Status, p.delay, attempt, p.maxRetries)
		if err := p.sleep(ctx, p.delay); err != nil {
			return job.failWith(errors.Wrap(err, "wait for slow log export"))
		}
	}

	return job.failWith(errors.Wrapf(ErrExportTimeout, "after %d attempts", job.Attempts))
}

// pickDownloadLink 取第一个状态为 SUCCESS 且链接可解析的文件
func pickDownloadLink(files []ExportFile) string {
	for _, f := range files {
		if !strings.EqualFold(strings.TrimSpace(f.Status), "SUCCESS") {
			continue
		}
		link := strings.TrimSpace(f.FileLink)
		if isResolvableLink(link) {
			return link
		}
	}
	return ""
}

func isResolvableLink(link string) bool {
	if link == "" {
		return false
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
