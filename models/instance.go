// 监控实例模型
package models

import "strings"

// Instance 被监控的数据库实例，启动时由配置构建，之后不再变化
type Instance struct {
	Id        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Databases []string `json:"databases,omitempty"` // 为空表示监控所有数据库
}

// AllDatabases 是否监控实例下的所有数据库
func (i Instance) AllDatabases() bool {
	return len(i.Databases) == 0
}

// DisplayName 报告中展示的实例名称
func (i Instance) DisplayName() string {
	if i.Name == "" || i.Name == i.Id {
		return i.Id
	}
	return i.Name + "(" + i.Id + ")"
}

// WatchesDatabase 判断记录所属的数据库是否在监控范围内
func (i Instance) WatchesDatabase(db string) bool {
	if i.AllDatabases() {
		return true
	}
	for _, d := range i.Databases {
		if strings.EqualFold(d, db) {
			return true
		}
	}
	return false
}

// NormalizeDatabases 去除空白和重复的数据库名
func NormalizeDatabases(dbs []string) []string {
	seen := make(map[string]struct{}, len(dbs))
	out := make([]string, 0, len(dbs))
	for _, db := range dbs {
		db = strings.TrimSpace(db)
		if db == "" {
			continue
		}
		if _, ok := seen[db]; ok {
			continue
		}
		seen[db] = struct{}{}
		out = append(out, db)
	}
	return out
}
