// 慢SQL告警流水线 - 运行状态
package slowlog

import (
	"sort"
	"sync"
	"time"
)

// UnitStatus 处理单元最近一次结果，用于状态接口展示
type UnitStatus struct {
	CycleId        string    `json:"cycle_id"`
	InstanceId     string    `json:"instance_id"`
	Database       string    `json:"database,omitempty"`
	Stage          Stage     `json:"stage"`
	Kind           ErrorKind `json:"kind,omitempty"`
	Error          string    `json:"error,omitempty"`
	Found          int       `json:"found"`
	New            int       `json:"new"`
	Delivered      int       `json:"delivered"`
	ExportAttempts int       `json:"export_attempts,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	FinishedAt     time.Time `json:"finished_at"`
}

// StatusSnapshot 状态接口的返回内容
type StatusSnapshot struct {
	Provider    string               `json:"provider"`
	Strategy    string               `json:"strategy"`
	StartedAt   time.Time            `json:"started_at"`
	LastCycleId string               `json:"last_cycle_id,omitempty"`
	LastCycleAt time.Time            `json:"last_cycle_at,omitempty"`
	Cycles      int64                `json:"cycles"`
	Units       []UnitStatus         `json:"units"`
	Cursors     map[string]time.Time `json:"cursors,omitempty"`
}

// StatusBoard 保存每个处理单元最近一次的结果
type StatusBoard struct {
	mu          sync.RWMutex
	provider    string
	strategy    string
	startedAt   time.Time
	lastCycleId string
	lastCycleAt time.Time
	cycles      int64
	units       map[string]UnitStatus
	cursors     *CursorStore
}

func NewStatusBoard(provider, strategy string, cursors *CursorStore) *StatusBoard {
	return &StatusBoard{
		provider:  provider,
		strategy:  strategy,
		startedAt: time.Now(),
		units:     make(map[string]UnitStatus),
		cursors:   cursors,
	}
}

// Update 记录一轮的所有结果
func (b *StatusBoard) Update(cycleId string, at time.Time, outcomes []Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cycles++
	b.lastCycleId = cycleId
	b.lastCycleAt = at
	for _, o := range outcomes {
		st := UnitStatus{
			CycleId:        o.CycleId,
			InstanceId:     o.InstanceId,
			Database:       o.Database,
			Stage:          o.Stage,
			Kind:           o.Kind,
			Found:          o.Found,
			New:            o.New,
			Delivered:      o.Delivered,
			ExportAttempts: o.ExportAttempts,
			DurationMs:     o.Duration.Milliseconds(),
			FinishedAt:     at,
		}
		if o.Err != nil {
			st.Error = o.Err.Error()
		}
		b.units[o.InstanceId+"/"+o.scopeName()] = st
	}
}

// Snapshot 当前状态的副本，单元按实例和数据库排序
func (b *StatusBoard) Snapshot() StatusSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := StatusSnapshot{
		Provider:    b.provider,
		Strategy:    b.strategy,
		StartedAt:   b.startedAt,
		LastCycleId: b.lastCycleId,
		LastCycleAt: b.lastCycleAt,
		Cycles:      b.cycles,
		Units:       make([]UnitStatus, 0, len(b.units)),
	}
	for _, u := range b.units {
		snap.Units = append(snap.Units, u)
	}
	sort.Slice(snap.Units, func(i, j int) bool {
		if snap.Units[i].InstanceId != snap.Units[j].InstanceId {
			return snap.Units[i].InstanceId < snap.Units[j].InstanceId
		}
		return snap.Units[i].Database < snap.Units[j].Database
	})
	if b.cursors != nil {
		snap.Cursors = b.cursors.Snapshot()
	}
	return snap
}

// Healthy 至少完成过一轮，且最近一轮没有超过 maxAge
func (b *StatusBoard) Healthy(now time.Time, maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cycles == 0 {
		return now.Sub(b.startedAt) <= maxAge
	}
	return now.Sub(b.lastCycleAt) <= maxAge
}
