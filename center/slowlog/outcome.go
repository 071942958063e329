// 慢SQL告警流水线 - 处理结果与错误分类
package slowlog

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Stage 处理阶段
type Stage string

const (
	StageQuery    Stage = "query"
	StageExport   Stage = "export"
	StageDownload Stage = "download"
	StageParse    Stage = "parse"
	StageReport   Stage = "report"
	StageDeliver  Stage = "deliver"
	StageArchive  Stage = "archive"
	StageDone     Stage = "done"
)

// ErrorKind 错误类别，日志和指标按类别区分
type ErrorKind string

const (
	KindNone     ErrorKind = ""
	KindUpstream ErrorKind = "upstream" // 云 API 调用失败、导出任务失败或超时
	KindFetch    ErrorKind = "fetch"    // 日志文件下载失败
	KindParse    ErrorKind = "parse"    // 日志文件无法读取
	KindDelivery ErrorKind = "delivery" // webhook 上传或发送失败
	KindLocalIO  ErrorKind = "local_io" // 本地文件清理、历史归档失败
	KindPanic    ErrorKind = "panic"
)

// StageError 带阶段和类别的错误
type StageError struct {
	Stage      Stage
	Kind       ErrorKind
	InstanceId string
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("[%s/%s] instance %s: %v", e.Stage, e.Kind, e.InstanceId, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(stage Stage, kind ErrorKind, instanceId string, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, InstanceId: instanceId, Err: err}
}

var (
	// ErrExportFailed 导出任务返回 FAILED
	ErrExportFailed = errors.New("slow log export job failed")
	// ErrExportTimeout 达到最大重试次数仍未完成
	ErrExportTimeout = errors.New("slow log export job not finished within max retries")
)

// Outcome 一个处理单元（实例 + 数据库范围）的结果
type Outcome struct {
	CycleId    string
	Provider   string
	InstanceId string
	Database   string // 为空表示全部数据库

	Stage Stage // 成功时为 StageDone，失败时为出错阶段
	Kind  ErrorKind
	Err   error

	Found     int // 获取到的记录数
	New       int // 去重后待告警的记录数
	Delivered int // 成功投递的记录数
	Reports   int // 成功投递的报告数

	ExportAttempts int
	ArchiveErr     error
	CursorAfter    time.Time
	Duration       time.Duration
}

// OK 处理单元是否成功
func (o Outcome) OK() bool {
	return o.Err == nil
}

// fail 根据错误填充阶段和类别
func (o Outcome) fail(err error) Outcome {
	o.Err = err
	var se *StageError
	if errors.As(err, &se) {
		o.Stage = se.Stage
		o.Kind = se.Kind
	} else if o.Kind == KindNone {
		o.Kind = KindUpstream
	}
	return o
}

// succeed 标记成功完成
func (o Outcome) succeed() Outcome {
	o.Stage = StageDone
	o.Kind = KindNone
	o.Err = nil
	return o
}

// scopeName 日志中展示的数据库范围
func (o Outcome) scopeName() string {
	if o.Database == "" {
		return "all"
	}
	return o.Database
}
