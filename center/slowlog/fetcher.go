// 慢SQL告警流水线 - 慢日志获取
package slowlog

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccfos/rds-slowsql-alert/models"

	"github.com/pkg/errors"
	"github.com/toolkits/pkg/logger"
)

// QueryRequest 同步查询慢日志的请求
type QueryRequest struct {
	InstanceId string
	DBName     string // 为空表示所有数据库
	Window     Window
	PageToken  string // 为空表示第一页
}

// QueryPage 同步查询返回的一页记录
type QueryPage struct {
	Records       []models.SlowQueryRecord
	Total         int
	NextPageToken string // 为空表示没有下一页
}

// SlowLogQuerier 按时间窗口同步查询慢日志的云 API
type SlowLogQuerier interface {
	QuerySlowLogs(ctx context.Context, req QueryRequest) (*QueryPage, error)
}

// QueryFetcher 拉取时间窗口内的全部分页
type QueryFetcher struct {
	api      SlowLogQuerier
	maxPages int
}

// NewQueryFetcher 创建查询获取器，maxPages <= 0 时最多拉取 100 页
func NewQueryFetcher(api SlowLogQuerier, maxPages int) *QueryFetcher {
	if maxPages <= 0 {
		maxPages = 100
	}
	return &QueryFetcher{api: api, maxPages: maxPages}
}

// Fetch 返回窗口内的记录和云端报告的总数；任何一页失败都返回错误且不返回记录
func (f *QueryFetcher) Fetch(ctx context.Context, instanceId, dbName string, window Window) ([]models.SlowQueryRecord, int, error) {
	var (
		records []models.SlowQueryRecord
		total   int
		token   string
	)

	for page := 0; page < f.maxPages; page++ {
		resp, err := f.api.QuerySlowLogs(ctx, QueryRequest{
			InstanceId: instanceId,
			DBName:     dbName,
			Window:     window,
			PageToken:  token,
		})
		if err != nil {
			return nil, 0, errors.Wrapf(err, "query slow logs of %s page %d", instanceId, page+1)
		}
		if resp == nil {
			break
		}

		total = resp.Total
		records = append(records, resp.Records...)

		if resp.NextPageToken == "" {
			break
		}
		if page == f.maxPages-1 {
			logger.Warningf("instance %s has more than %d pages of slow logs, fetched %d records", instanceId, f.maxPages, len(records))
		}
		token = resp.NextPageToken
	}

	for i := range records {
		records[i].Normalize()
	}
	return records, total, nil
}

const (
	slowLogFilePrefix   = "slowlog_"
	slowLogFileSep      = "__"
	defaultDownloadName = "slowlog_download"
)

// FileFetcher 下载导出的慢日志文件，每个实例在下载目录中最多保留一个文件
type FileFetcher struct {
	dir    string
	client *http.Client
	now    func() time.Time
}

// NewFileFetcher 创建文件下载器
func NewFileFetcher(dir string, timeout time.Duration) *FileFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &FileFetcher{
		dir:    dir,
		client: &http.Client{Transport: transport, Timeout: timeout},
		now:    time.Now,
	}
}

// WithHTTPClient 替换 HTTP 客户端
func (f *FileFetcher) WithHTTPClient(c *http.Client) *FileFetcher {
	f.client = c
	return f
}

// Dir 下载目录
func (f *FileFetcher) Dir() string {
	return f.dir
}

// Download 下载 link 指向的文件，成功后返回本地路径
// 写入前删除该实例之前下载的其它文件；失败时不会留下可被引用的文件
func (f *FileFetcher) Download(ctx context.Context, instanceId, link string) (string, error) {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return "", fmt.Errorf("create download dir %s: %w", f.dir, err)
	}

	fileName := LocalFileName(instanceId, link, f.now())
	f.removeStale(instanceId, fileName)

	filePath := filepath.Join(f.dir, fileName)
	logger.Infof("downloading slow log of %s to %s", instanceId, filePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download slow log: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("download slow log: unexpected status %d", resp.StatusCode)
	}

	tmpPath := filePath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", tmpPath, err)
	}

	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("write %s: %w", tmpPath, copyErr)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename %s: %w", tmpPath, err)
	}

	logger.Infof("slow log of %s downloaded: %s (%d bytes)", instanceId, filePath, n)
	return filePath, nil
}

// removeStale 删除该实例除 keep 外的所有已下载文件，失败只记录日志
func (f *FileFetcher) removeStale(instanceId, keep string) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		logger.Errorf("list download dir %s failed: %v", f.dir, err)
		return
	}

	segment := instanceSegment(instanceId)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == keep {
			continue
		}
		if owner, ok := fileInstanceSegment(name); !ok || owner != segment {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, name)); err != nil {
			logger.Errorf("remove old slow log file %s failed: %v", name, err)
			continue
		}
		logger.Infof("removed old slow log file: %s", name)
	}
}

// LocalFileName 由下载链接推导本地文件名：slowlog_<实例>__<链接文件名>
func LocalFileName(instanceId, link string, now time.Time) string {
	base := ""
	if u, err := url.Parse(link); err == nil {
		base = path.Base(u.Path)
	}
	if base == "" || base == "." || base == "/" {
		base = fmt.Sprintf("%s_%s", defaultDownloadName, now.Format("20060102_150405"))
	}
	return instanceFilePrefix(instanceId) + sanitizeFileName(base)
}

func instanceFilePrefix(instanceId string) string {
	return slowLogFilePrefix + instanceSegment(instanceId) + slowLogFileSep
}

// instanceSegment 文件名中的实例段，其中的 _ 替换为 -，保证段内不会出现分隔符
func instanceSegment(instanceId string) string {
	return strings.ReplaceAll(sanitizeFileName(instanceId), "_", "-")
}

// fileInstanceSegment 取出下载文件名中的实例段
func fileInstanceSegment(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, slowLogFilePrefix)
	if !ok {
		return "", false
	}
	segment, _, ok := strings.Cut(rest, slowLogFileSep)
	if !ok || segment == "" {
		return "", false
	}
	return segment, true
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}
