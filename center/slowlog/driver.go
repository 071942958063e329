// 慢SQL告警流水线 - 轮询驱动
package slowlog

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ccfos/rds-slowsql-alert/center/metrics"
	"github.com/ccfos/rds-slowsql-alert/models"

	"github.com/google/uuid"
	"github.com/toolkits/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Driver 按固定间隔对所有实例执行处理链
type Driver struct {
	processor   Processor
	instances   []models.Instance
	interval    time.Duration
	concurrency int
	status      *StatusBoard
	sleep       Sleeper
}

// NewDriver concurrency <= 1 时按顺序处理实例
func NewDriver(processor Processor, instances []models.Instance, interval time.Duration, concurrency int) *Driver {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Driver{
		processor:   processor,
		instances:   instances,
		interval:    interval,
		concurrency: concurrency,
		sleep:       SleepContext,
	}
}

// WithStatusBoard 每轮结束后更新状态
func (d *Driver) WithStatusBoard(b *StatusBoard) *Driver {
	d.status = b
	return d
}

// WithSleeper 替换轮询间隔的等待函数
func (d *Driver) WithSleeper(s Sleeper) *Driver {
	d.sleep = s
	return d
}

// Run 循环执行直到 ctx 结束；出错后同样等待完整间隔
func (d *Driver) Run(ctx context.Context) error {
	logger.Infof("slow sql monitor started: provider=%s instances=%d interval=%s concurrency=%d",
		d.processor.Name(), len(d.instances), d.interval, d.concurrency)

	for {
		d.RunOnce(ctx)

		if err := d.sleep(ctx, d.interval); err != nil {
			logger.Infof("slow sql monitor stopped: %v", err)
			return nil
		}
	}
}

// RunOnce 执行一轮并返回所有处理单元的结果
// ctx 结束后不再开始新的实例，已开始的实例会处理完
func (d *Driver) RunOnce(ctx context.Context) []Outcome {
	cycleId := uuid.NewString()
	start := time.Now()
	unitCtx := context.WithoutCancel(ctx)

	var (
		mu       sync.Mutex
		outcomes []Outcome
	)
	collect := func(o []Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o...)
		mu.Unlock()
	}

	if d.concurrency == 1 {
		for _, inst := range d.instances {
			if ctx.Err() != nil {
				break
			}
			collect(d.runUnit(unitCtx, cycleId, inst))
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(d.concurrency)
		for _, inst := range d.instances {
			if ctx.Err() != nil {
				break
			}
			inst := inst
			g.Go(func() error {
				collect(d.runUnit(unitCtx, cycleId, inst))
				return nil
			})
		}
		g.Wait()
	}

	elapsed := time.Since(start)
	metrics.ObserveCycle(d.processor.Name(), elapsed)
	if d.status != nil {
		d.status.Update(cycleId, time.Now(), outcomes)
	}

	failed := 0
	for _, o := range outcomes {
		if !o.OK() {
			failed++
		}
	}
	logger.Infof("cycle %s finished: units=%d failed=%d cost=%s", cycleId, len(outcomes), failed, elapsed)
	return outcomes
}

// runUnit 处理一个实例，panic 被转换为结果
func (d *Driver) runUnit(ctx context.Context, cycleId string, inst models.Instance) (outcomes []Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic while processing instance %s: %v\n%s", inst.Id, r, debug.Stack())
			o := Outcome{CycleId: cycleId, Provider: d.processor.Name(), InstanceId: inst.Id}
			o = o.fail(newStageError(StageDone, KindPanic, inst.Id, fmt.Errorf("panic: %v", r)))
			outcomes = append(outcomes, o)
		}
		for _, o := range outcomes {
			logOutcome(o)
			metrics.ObserveOutcome(o.Provider, string(o.Stage), string(o.Kind), o.Found, o.Delivered, o.ExportAttempts)
			metrics.SetCursor(o.InstanceId, o.CursorAfter)
		}
	}()

	return d.processor.Process(ctx, cycleId, inst)
}

func logOutcome(o Outcome) {
	if !o.OK() {
		logger.Errorf("cycle %s instance %s scope %s failed at %s (%s): %v",
			o.CycleId, o.InstanceId, o.scopeName(), o.Stage, o.Kind, o.Err)
		return
	}
	if o.ArchiveErr != nil {
		logger.Warningf("cycle %s instance %s scope %s delivered but not archived: %v",
			o.CycleId, o.InstanceId, o.scopeName(), o.ArchiveErr)
	}
	if o.Found == 0 {
		logger.Debugf("cycle %s instance %s scope %s: no slow queries", o.CycleId, o.InstanceId, o.scopeName())
		return
	}
	logger.Infof("cycle %s instance %s scope %s: found=%d new=%d delivered=%d reports=%d cost=%s",
		o.CycleId, o.InstanceId, o.scopeName(), o.Found, o.New, o.Delivered, o.Reports, o.Duration)
}
