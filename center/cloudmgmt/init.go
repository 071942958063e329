// 云服务管理模块 - 模块初始化
package cloudmgmt

var (
	// DefaultManager 默认管理器实例
	DefaultManager *Manager
)

// Init 初始化云服务管理模块，注册所有内置提供者
func Init() *Manager {
	DefaultManager = NewManager()
	DefaultManager.RegisterProvider("huawei", NewHuaweiAdapter)
	DefaultManager.RegisterProvider("aliyun", NewAliyunAdapter)
	return DefaultManager
}

// GetManager 获取管理器实例
func GetManager() *Manager {
	return DefaultManager
}
