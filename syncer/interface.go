package syncer

import (
	"context"

	"github.com/ceyewan/kongsync/kong"
	"github.com/ceyewan/kongsync/registry"
)

// Registry 同步的数据来源，registry.Source 满足此接口
type Registry interface {
	ListServices(ctx context.Context) ([]registry.Service, error)
	ListInstances(ctx context.Context, svc registry.Service) ([]registry.Instance, error)
}

// Watcher 可选，Registry 同时实现时 Run 会在变更后立即同步
type Watcher interface {
	Watch(ctx context.Context) (<-chan registry.Service, error)
}

// Gateway 同步目标，*kong.Client 满足此接口
type Gateway interface {
	ListServices(ctx context.Context, tags ...string) (*kong.ServiceObjectList, error)
	CreateService(ctx context.Context, svc kong.ServiceObject) (kong.ServiceObject, error)
	UpdateService(ctx context.Context, idOrName string, svc kong.ServiceObject) (kong.ServiceObject, error)
	DeleteService(ctx context.Context, idOrName string) error

	ListUpstreams(ctx context.Context, tags ...string) (*kong.UpstreamObjectList, error)
	CreateUpstream(ctx context.Context, up kong.UpstreamObject) (kong.UpstreamObject, error)
	DeleteUpstream(ctx context.Context, idOrName string) error

	ListTargets(ctx context.Context, upstream string) (*kong.TargetObjectList, error)
	CreateTarget(ctx context.Context, upstream string, t kong.TargetObject) (kong.TargetObject, error)
	DeleteTarget(ctx context.Context, upstream, idOrTarget string) error
}

var (
	_ Registry = registry.Source(nil)
	_ Watcher  = registry.Source(nil)
	_ Gateway  = (*kong.Client)(nil)
)
