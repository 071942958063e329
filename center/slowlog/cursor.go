// 慢SQL告警流水线 - 去重游标
package slowlog

import (
	"sync"
	"time"

	"github.com/ccfos/rds-slowsql-alert/models"
)

// CursorStore 记录每个实例已告警的最大时间戳
// 只在投递成功后前移，不会回退
type CursorStore struct {
	mu    sync.RWMutex
	start time.Time
	last  map[string]time.Time
}

// NewCursorStore start 为所有实例游标的初始值，一般为进程启动时间
func NewCursorStore(start time.Time) *CursorStore {
	return &CursorStore{
		start: start,
		last:  make(map[string]time.Time),
	}
}

// Last 实例当前的游标
func (s *CursorStore) Last(instanceId string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.last[instanceId]; ok {
		return t
	}
	return s.start
}

// Filter 返回时间戳严格大于游标的记录，保持原有顺序，不修改游标
func (s *CursorStore) Filter(instanceId string, records []models.SlowQueryRecord) []models.SlowQueryRecord {
	last := s.Last(instanceId)

	var fresh []models.SlowQueryRecord
	for _, r := range records {
		if r.Timestamp.After(last) {
			fresh = append(fresh, r)
		}
	}
	return fresh
}

// Advance 将游标移动到已投递记录的最大时间戳，返回移动后的游标值
func (s *CursorStore) Advance(instanceId string, delivered []models.SlowQueryRecord) time.Time {
	max := models.MaxTimestamp(delivered)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.last[instanceId]
	if !ok {
		cur = s.start
	}
	if max.After(cur) {
		s.last[instanceId] = max
		return max
	}
	return cur
}

// Snapshot 所有已前移过的游标
func (s *CursorStore) Snapshot() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]time.Time, len(s.last))
	for k, v := range s.last {
		out[k] = v
	}
	return out
}
