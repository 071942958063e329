// 慢SQL告警流水线 - 查询时间窗口
package slowlog

import "time"

const (
	// DefaultWindowLength 每次查询覆盖的时间长度
	DefaultWindowLength = time.Minute

	// AliyunTimeLayout 阿里云 API 要求的 UTC 时间格式 yyyy-MM-ddTHH:mmZ
	AliyunTimeLayout = "2006-01-02T15:04Z"
	// HuaweiTimeLayout 华为云要求格式: yyyy-mm-ddThh:mm:ss+0800 (时区无冒号)
	HuaweiTimeLayout = "2006-01-02T15:04:05-0700"
)

// Window 半开区间 [Start, End)，以 UTC 表示
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration 窗口长度
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Format 按 API 要求格式化窗口；以 Z 结尾的格式使用 UTC，其余使用 loc
func (w Window) Format(layout string, loc *time.Location) (string, string) {
	start, end := w.Start.UTC(), w.End.UTC()
	if layout != AliyunTimeLayout && loc != nil {
		start, end = start.In(loc), end.In(loc)
	}
	return start.Format(layout), end.Format(layout)
}

// WindowCursor 每轮计算 "当前时间 - 窗口长度" 到 "当前时间" 的查询窗口，不保存状态
type WindowCursor struct {
	length time.Duration
	loc    *time.Location
	now    func() time.Time
}

// NewWindowCursor 创建时间窗口游标，length <= 0 时使用一分钟
func NewWindowCursor(loc *time.Location, length time.Duration) *WindowCursor {
	if length <= 0 {
		length = DefaultWindowLength
	}
	if loc == nil {
		loc = time.Local
	}
	return &WindowCursor{length: length, loc: loc, now: time.Now}
}

// WithClock 替换时钟，用于测试
func (c *WindowCursor) WithClock(now func() time.Time) *WindowCursor {
	c.now = now
	return c
}

// Length 窗口长度
func (c *WindowCursor) Length() time.Duration {
	return c.length
}

// Next 计算下一轮查询窗口：参考时区的当前时间转换为 UTC
func (c *WindowCursor) Next() Window {
	end := c.now().In(c.loc).UTC()
	return Window{Start: end.Add(-c.length), End: end}
}
