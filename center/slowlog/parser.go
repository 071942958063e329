// 慢SQL告警流水线 - MySQL 慢日志文件解析
package slowlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ccfos/rds-slowsql-alert/models"

	"github.com/araddon/dateparse"
	"github.com/toolkits/pkg/logger"
)

// LineKind 慢日志行类型
type LineKind int

const (
	LineIgnorable LineKind = iota
	LineTimeMarker
	LineUserHost
	LineMetrics
	LineExecutionFlags
	LineSqlFragment
)

func (k LineKind) String() string {
	switch k {
	case LineTimeMarker:
		return "TimeMarker"
	case LineUserHost:
		return "UserHost"
	case LineMetrics:
		return "Metrics"
	case LineExecutionFlags:
		return "ExecutionFlags"
	case LineSqlFragment:
		return "SqlFragment"
	default:
		return "Ignorable"
	}
}

// Line 分类后的一行，Value 为去掉前缀后的内容
type Line struct {
	Kind  LineKind
	Value string
}

const (
	timeMarkerPrefix = "# Time:"
	userHostPrefix   = "# User@Host:"
)

var (
	metricsPrefixes = []string{"# Query_time:", "# Thread_id:", "# Schema:"}
	flagsPrefixes   = []string{"# QC_Hit:", "# Full_scan:"}
	// 服务启动时写入文件头部的内容
	bannerPrefixes = []string{"/usr/local/mysql/bin/mysqld", "Tcp port:", "Time                 Id Command"}
)

// ClassifyLine 识别一行的类型，不会失败
func ClassifyLine(raw string) Line {
	line := strings.TrimRight(raw, " \t\r\n")
	trimmed := strings.TrimSpace(line)

	switch {
	case trimmed == "":
		return Line{Kind: LineIgnorable}
	case strings.HasPrefix(trimmed, timeMarkerPrefix):
		return Line{Kind: LineTimeMarker, Value: strings.TrimSpace(trimmed[len(timeMarkerPrefix):])}
	case strings.HasPrefix(trimmed, userHostPrefix):
		return Line{Kind: LineUserHost, Value: strings.TrimSpace(trimmed[len(userHostPrefix):])}
	case hasAnyPrefix(trimmed, metricsPrefixes):
		return Line{Kind: LineMetrics, Value: strings.TrimSpace(trimmed[1:])}
	case hasAnyPrefix(trimmed, flagsPrefixes):
		return Line{Kind: LineExecutionFlags, Value: strings.TrimSpace(trimmed[1:])}
	case strings.HasPrefix(trimmed, "#"):
		return Line{Kind: LineIgnorable}
	case isBanner(trimmed):
		return Line{Kind: LineIgnorable}
	case strings.HasPrefix(strings.ToUpper(trimmed), "SET TIMESTAMP="):
		return Line{Kind: LineIgnorable}
	}
	return Line{Kind: LineSqlFragment, Value: line}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func isBanner(s string) bool {
	if hasAnyPrefix(s, bannerPrefixes) {
		return true
	}
	return strings.Contains(s, "mysqld, Version:")
}

// Parser 慢日志解析器
type Parser struct {
	loc *time.Location
	now func() time.Time
}

// NewParser loc 为参考时区，用于解释不带时区的时间以及判断"当天"
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{loc: loc, now: time.Now}
}

// WithClock 替换时钟
func (p *Parser) WithClock(now func() time.Time) *Parser {
	p.now = now
	return p
}

// ParseFile 解析本地慢日志文件
func (p *Parser) ParseFile(path string) ([]models.SlowQueryRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open slow log %s: %w", path, err)
	}
	defer f.Close()

	records, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read slow log %s: %w", path, err)
	}
	return records, nil
}

// Parse 逐行解析，只返回当天的记录，按时间升序排列
// 单行格式错误不会导致失败，只有读取错误会返回
func (p *Parser) Parse(r io.Reader) ([]models.SlowQueryRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	red := &reducer{parser: p, today: civilDate(p.now().In(p.loc))}
	for scanner.Scan() {
		red.feed(ClassifyLine(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	red.flush()

	if red.stale > 0 || red.untimed > 0 {
		logger.Debugf("slow log parse: accepted=%d stale=%d without_time=%d", len(red.records), red.stale, red.untimed)
	}

	models.SortSlowQueryRecords(red.records)
	return red.records, nil
}

// accumulator 当前正在累积的记录
type accumulator struct {
	record   models.SlowQueryRecord
	hasTime  bool
	sqlLines []string
}

type reducer struct {
	parser  *Parser
	today   string
	cur     *accumulator
	records []models.SlowQueryRecord
	stale   int
	untimed int
}

func (r *reducer) feed(l Line) {
	if l.Kind == LineTimeMarker {
		r.flush()
		r.cur = &accumulator{}
		if ts, ok := r.parser.parseTime(l.Value); ok {
			r.cur.record.Timestamp = ts
			r.cur.hasTime = true
		}
		return
	}

	// 第一个时间标记之前的内容属于上一个文件的残留
	if r.cur == nil {
		return
	}

	switch l.Kind {
	case LineUserHost:
		r.cur.applyUserHost(l.Value)
	case LineMetrics:
		r.cur.applyMetrics(l.Value, r.parser)
	case LineExecutionFlags:
		r.cur.applyFlags(l.Value)
	case LineSqlFragment:
		r.cur.appendSql(l.Value)
	}
}

func (r *reducer) flush() {
	cur := r.cur
	r.cur = nil
	if cur == nil || len(cur.sqlLines) == 0 {
		return
	}
	if !cur.hasTime {
		r.untimed++
		return
	}
	if civilDate(cur.record.Timestamp.In(r.parser.loc)) != r.today {
		r.stale++
		return
	}

	rec := cur.record
	rec.SqlText = strings.Join(cur.sqlLines, "\n")
	rec.Normalize()
	r.records = append(r.records, rec)
}

func (a *accumulator) applyUserHost(v string) {
	// root[root] @  [10.0.0.1]  Id:    12
	if idx := strings.Index(v, "Id:"); idx >= 0 {
		if id := strings.TrimSpace(v[idx+len("Id:"):]); id != "" {
			a.record.ThreadId = strings.Fields(id)[0]
		}
		v = strings.TrimSpace(v[:idx])
	}
	a.record.UserHost = v
}

func (a *accumulator) applyMetrics(v string, p *Parser) {
	for key, val := range headerFields(v) {
		switch key {
		case "Query_time":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				a.record.QueryTimeSeconds = f
			}
		case "Lock_time":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				a.record.LockTimeSeconds = f
			}
		case "Rows_sent":
			if n, ok := parseCount(val); ok {
				a.record.RowsSent = n
			}
		case "Rows_examined":
			if n, ok := parseCount(val); ok {
				a.record.RowsExamined = n
			}
		case "Thread_id":
			if val != "" {
				a.record.ThreadId = val
			}
		case "Schema":
			if val != "" {
				a.record.DBName = val
			}
		case "Start":
			if ts, ok := p.parseTime(val); ok {
				a.record.StartTime = ts
			}
		case "End":
			if ts, ok := p.parseTime(val); ok {
				a.record.EndTime = ts
			}
		}
	}
}

func (a *accumulator) applyFlags(v string) {
	fields := headerFields(v)
	a.record.FullTableScan = strings.EqualFold(fields["Full_scan"], "Yes")
	a.record.UsedTempTable = strings.EqualFold(fields["Tmp_table"], "Yes")
	a.record.UsedDiskTempTable = strings.EqualFold(fields["Tmp_table_on_disk"], "Yes")
}

func (a *accumulator) appendSql(line string) {
	a.sqlLines = append(a.sqlLines, line)

	// use db; 出现在语句前，补充缺失的库名
	if a.record.DBName != "" {
		return
	}
	t := strings.TrimSpace(line)
	if len(t) > 4 && strings.EqualFold(t[:4], "use ") {
		db := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t[4:]), ";"))
		a.record.DBName = strings.Trim(db, "`")
	}
}

// headerFields 解析 "Key: value  Key2: value2" 形式的头部，值可以为空
func headerFields(s string) map[string]string {
	out := make(map[string]string)
	key := ""
	for _, tok := range strings.Fields(s) {
		if strings.HasSuffix(tok, ":") && len(tok) > 1 {
			key = strings.TrimSuffix(tok, ":")
			if _, ok := out[key]; !ok {
				out[key] = ""
			}
			continue
		}
		if key != "" && out[key] == "" {
			out[key] = tok
		}
	}
	return out
}

func parseCount(s string) (int64, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

// 5.5 之前的格式: 240501  2:00:00
const legacyTimeLayout = "060102 15:04:05"

func (p *Parser) parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if fields := strings.Fields(s); len(fields) == 2 && isLegacyDate(fields[0]) {
		t, err := time.ParseInLocation(legacyTimeLayout, fields[0]+" "+fields[1], p.loc)
		return t, err == nil
	}
	// 带 Z 或偏移量的时间按其自身时区解析，dateparse 遇到小数秒时会丢掉 Z
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := dateparse.ParseIn(s, p.loc); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func isLegacyDate(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func civilDate(t time.Time) string {
	return t.Format("2006-01-02")
}
