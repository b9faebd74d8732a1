package registry

import "context"

// Source 注册中心数据源
type Source interface {
	// ListServices 返回所有至少有一个实例的服务，按 namespace、name 排序
	ListServices(ctx context.Context) ([]Service, error)

	// ListInstances 返回服务的全部实例，无法解析的实例会被跳过
	ListInstances(ctx context.Context, svc Service) ([]Instance, error)

	// Register 写入或覆盖一个实例
	Register(ctx context.Context, svc Service, ins Instance) error

	// Deregister 删除一个实例，实例不存在不是错误
	Deregister(ctx context.Context, svc Service, instanceID string) error

	// Watch 监听前缀下的变化，每个 PUT/DELETE 发出受影响的服务。
	// ctx 结束后通道关闭。
	Watch(ctx context.Context) (<-chan Service, error)
}
