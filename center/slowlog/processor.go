// 慢SQL告警流水线 - 单实例处理链
package slowlog

import (
	"context"
	"fmt"
	"time"

	"github.com/ccfos/rds-slowsql-alert/models"

	"github.com/pkg/errors"
	"github.com/toolkits/pkg/logger"
)

// Notifier 将报告投递到外部通道，返回 nil 表示投递成功
type Notifier interface {
	Deliver(ctx context.Context, report *Report) error
}

// HistoryRecorder 归档已投递的记录
type HistoryRecorder interface {
	Record(ctx context.Context, provider, instanceId, reportFile string, records []models.SlowQueryRecord, deliveredAt time.Time) error
}

// Processor 处理一个实例，返回每个处理单元的结果
type Processor interface {
	Name() string
	Process(ctx context.Context, cycleId string, inst models.Instance) []Outcome
}

// QueryProcessor 同步查询策略：每轮查询最近一个时间窗口，按数据库出报告，没有游标
type QueryProcessor struct {
	provider string
	windows  *WindowCursor
	fetcher  *QueryFetcher
	builder  *ReportBuilder
	notifier Notifier
	history  HistoryRecorder
	now      func() time.Time
}

func NewQueryProcessor(provider string, windows *WindowCursor, fetcher *QueryFetcher, builder *ReportBuilder, notifier Notifier) *QueryProcessor {
	return &QueryProcessor{
		provider: provider,
		windows:  windows,
		fetcher:  fetcher,
		builder:  builder,
		notifier: notifier,
		now:      time.Now,
	}
}

// WithHistory 启用历史归档
func (p *QueryProcessor) WithHistory(h HistoryRecorder) *QueryProcessor {
	p.history = h
	return p
}

func (p *QueryProcessor) Name() string {
	return p.provider
}

// Process 未配置数据库时查询整个实例，否则逐个数据库查询
func (p *QueryProcessor) Process(ctx context.Context, cycleId string, inst models.Instance) []Outcome {
	window := p.windows.Next()

	scopes := inst.Databases
	if inst.AllDatabases() {
		scopes = []string{""}
	}

	outcomes := make([]Outcome, 0, len(scopes))
	for _, db := range scopes {
		outcomes = append(outcomes, p.processScope(ctx, cycleId, inst, db, window))
	}
	return outcomes
}

func (p *QueryProcessor) processScope(ctx context.Context, cycleId string, inst models.Instance, db string, window Window) (out Outcome) {
	start := time.Now()
	out = Outcome{CycleId: cycleId, Provider: p.provider, InstanceId: inst.Id, Database: db}
	defer func() { out.Duration = time.Since(start) }()

	out.Stage = StageQuery
	records, total, err := p.fetcher.Fetch(ctx, inst.Id, db, window)
	if err != nil {
		out = out.fail(newStageError(StageQuery, KindUpstream, inst.Id, err))
		return out
	}
	out.Found = len(records)
	out.New = len(records)
	if total > len(records) {
		logger.Warningf("instance %s scope %s reported %d slow logs but only %d were fetched", inst.Id, out.scopeName(), total, len(records))
	}
	if len(records) == 0 {
		out = out.succeed()
		return out
	}

	out.Stage = StageReport
	reports := p.builder.BuildDatabaseReports(inst, records, p.now())

	out.Stage = StageDeliver
	var lastErr error
	for _, report := range reports {
		if err := p.notifier.Deliver(ctx, report); err != nil {
			logger.Errorf("deliver report %s of instance %s failed: %v", report.FileName, inst.Id, err)
			lastErr = err
			continue
		}
		out.Reports++
		out.Delivered += len(report.Records)
		if err := archive(ctx, p.history, p.provider, inst.Id, report, p.now()); err != nil {
			out.ArchiveErr = err
		}
	}

	if lastErr != nil {
		out = out.fail(newStageError(StageDeliver, KindDelivery, inst.Id,
			errors.Wrapf(lastErr, "%d of %d reports not delivered", len(reports)-out.Reports, len(reports))))
		return out
	}
	out = out.succeed()
	return out
}

// ExportProcessor 导出下载策略：轮询导出任务、下载并解析文件、按游标去重后整实例出一份报告
type ExportProcessor struct {
	provider string
	poller   *ExportPoller
	fetcher  *FileFetcher
	parser   *Parser
	cursors  *CursorStore
	builder  *ReportBuilder
	notifier Notifier
	history  HistoryRecorder
	now      func() time.Time
}

func NewExportProcessor(provider string, poller *ExportPoller, fetcher *FileFetcher, parser *Parser,
	cursors *CursorStore, builder *ReportBuilder, notifier Notifier) *ExportProcessor {
	return &ExportProcessor{
		provider: provider,
		poller:   poller,
		fetcher:  fetcher,
		parser:   parser,
		cursors:  cursors,
		builder:  builder,
		notifier: notifier,
		now:      time.Now,
	}
}

// WithHistory 启用历史归档
func (p *ExportProcessor) WithHistory(h HistoryRecorder) *ExportProcessor {
	p.history = h
	return p
}

func (p *ExportProcessor) Name() string {
	return p.provider
}

// Process 导出的文件覆盖整个实例，配置了数据库时在解析后过滤
func (p *ExportProcessor) Process(ctx context.Context, cycleId string, inst models.Instance) []Outcome {
	return []Outcome{p.process(ctx, cycleId, inst)}
}

func (p *ExportProcessor) process(ctx context.Context, cycleId string, inst models.Instance) (out Outcome) {
	start := time.Now()
	out = Outcome{CycleId: cycleId, Provider: p.provider, InstanceId: inst.Id, CursorAfter: p.cursors.Last(inst.Id)}
	defer func() { out.Duration = time.Since(start) }()

	out.Stage = StageExport
	job := p.poller.Poll(ctx, inst.Id)
	out.ExportAttempts = job.Attempts
	if job.Status != ExportFinished {
		out = out.fail(newStageError(StageExport, KindUpstream, inst.Id, job.Err))
		return out
	}

	out.Stage = StageDownload
	path, err := p.fetcher.Download(ctx, inst.Id, job.DownloadLink)
	if err != nil {
		out = out.fail(newStageError(StageDownload, KindFetch, inst.Id, err))
		return out
	}

	out.Stage = StageParse
	records, err := p.parser.ParseFile(path)
	if err != nil {
		out = out.fail(newStageError(StageParse, KindParse, inst.Id, err))
		return out
	}
	records = filterDatabases(inst, records)
	out.Found = len(records)

	fresh := p.cursors.Filter(inst.Id, records)
	out.New = len(fresh)
	if len(fresh) == 0 {
		logger.Debugf("instance %s has no new slow queries after %s", inst.Id, out.CursorAfter.Format(time.RFC3339))
		out = out.succeed()
		return out
	}

	out.Stage = StageReport
	now := p.now()
	report := p.builder.BuildInstanceReport(inst, fresh, now)

	out.Stage = StageDeliver
	if err := p.notifier.Deliver(ctx, report); err != nil {
		out = out.fail(newStageError(StageDeliver, KindDelivery, inst.Id, err))
		return out
	}
	out.Reports = 1
	out.Delivered = len(fresh)
	out.CursorAfter = p.cursors.Advance(inst.Id, fresh)

	out.ArchiveErr = archive(ctx, p.history, p.provider, inst.Id, report, now)
	out = out.succeed()
	return out
}

func filterDatabases(inst models.Instance, records []models.SlowQueryRecord) []models.SlowQueryRecord {
	if inst.AllDatabases() {
		return records
	}
	kept := records[:0:0]
	for _, r := range records {
		if inst.WatchesDatabase(r.DBName) {
			kept = append(kept, r)
		}
	}
	return kept
}

// archive 归档失败只影响结果中的 ArchiveErr，不影响投递和游标
func archive(ctx context.Context, h HistoryRecorder, provider, instanceId string, report *Report, deliveredAt time.Time) error {
	if h == nil || report == nil {
		return nil
	}
	if err := h.Record(ctx, provider, instanceId, report.FileName, report.Records, deliveredAt); err != nil {
		err = newStageError(StageArchive, KindLocalIO, instanceId, fmt.Errorf("archive %d records: %w", len(report.Records), err))
		logger.Errorf("%v", err)
		return err
	}
	return nil
}
