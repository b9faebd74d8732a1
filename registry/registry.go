// Package registry 提供基于 Etcd 的注册中心数据源，是同步到 Kong 的上游。
//
// registry 借用 connector 的 Etcd 客户端，不负责连接的生命周期。
//
//	etcdConn, _ := connector.NewEtcd(&cfg.Etcd, connector.WithLogger(logger))
//	defer etcdConn.Close()
//	etcdConn.Connect(ctx)
//
//	src, _ := registry.New(etcdConn, &registry.Config{
//		Prefix: "/kongsync/services",
//	}, registry.WithLogger(logger))
//
//	svc := registry.Service{Namespace: "default", Name: "user-service"}
//	src.Register(ctx, svc, registry.Instance{ID: "i-1", Host: "10.0.0.1", Port: 8080, Weight: 100, Healthy: true})
//	instances, _ := src.ListInstances(ctx, svc)
//
// ## Etcd 存储结构
//
//	<prefix>/<namespace>/<service>/<instance_id> -> JSON(Instance)
//
// 例如 `/kongsync/services/default/user-service/i-1`。
package registry

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/kongsync/clog"
	"github.com/ceyewan/kongsync/connector"
	"github.com/ceyewan/kongsync/xerrors"
)

// New 创建基于 Etcd 的 Source
func New(conn connector.EtcdConnector, cfg *Config, opts ...Option) (Source, error) {
	if conn == nil {
		return nil, xerrors.New("etcd connector is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := &options{logger: clog.Discard()}
	for _, o := range opts {
		o(opt)
	}

	client := conn.GetClient()
	if client == nil {
		return nil, xerrors.New("etcd client cannot be nil")
	}

	return &etcdSource{
		client: client,
		cfg:    cfg,
		logger: opt.logger,
	}, nil
}

type etcdSource struct {
	client *clientv3.Client
	cfg    *Config
	logger clog.Logger
}

func (r *etcdSource) ListServices(ctx context.Context) ([]Service, error) {
	resp, err := r.client.Get(ctx, r.cfg.Prefix+"/", clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		r.logger.Error("failed to list services", clog.Error(err))
		return nil, xerrors.Wrap(err, "list services failed")
	}

	seen := make(map[Service]struct{})
	services := make([]Service, 0)
	for _, kv := range resp.Kvs {
		svc, _, ok := ParseKey(r.cfg.Prefix, string(kv.Key))
		if !ok {
			r.logger.Debug("skip unrecognized key", clog.String("key", string(kv.Key)))
			continue
		}
		if _, dup := seen[svc]; dup {
			continue
		}
		seen[svc] = struct{}{}
		services = append(services, svc)
	}

	slices.SortFunc(services, func(a, b Service) int {
		return cmp.Or(cmp.Compare(a.Namespace, b.Namespace), cmp.Compare(a.Name, b.Name))
	})
	return services, nil
}

func (r *etcdSource) ListInstances(ctx context.Context, svc Service) ([]Instance, error) {
	if !validSegment(svc.Namespace) || !validSegment(svc.Name) {
		return nil, ErrInvalidService
	}

	prefix := buildServicePrefix(r.cfg.Prefix, svc)
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		r.logger.Error("failed to list instances",
			clog.String("service", svc.String()),
			clog.Error(err))
		return nil, xerrors.Wrap(err, "list instances failed")
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		_, id, ok := ParseKey(r.cfg.Prefix, string(kv.Key))
		if !ok {
			continue
		}
		var ins Instance
		if err := json.Unmarshal(kv.Value, &ins); err != nil {
			r.logger.Warn("failed to unmarshal instance",
				clog.String("key", string(kv.Key)),
				clog.Error(err))
			continue
		}
		// key 是实例 ID 的权威来源
		ins.ID = id
		instances = append(instances, ins)
	}
	return instances, nil
}

func (r *etcdSource) Register(ctx context.Context, svc Service, ins Instance) error {
	if !validSegment(svc.Namespace) || !validSegment(svc.Name) {
		return ErrInvalidService
	}
	if !validSegment(ins.ID) || ins.Host == "" {
		return ErrInvalidInstance
	}

	value, err := json.Marshal(ins)
	if err != nil {
		return xerrors.Wrap(err, "marshal instance failed")
	}

	key := buildKey(r.cfg.Prefix, svc, ins.ID)
	if _, err := r.client.Put(ctx, key, string(value)); err != nil {
		r.logger.Error("failed to put instance",
			clog.String("key", key),
			clog.Error(err))
		return xerrors.Wrap(err, "put instance failed")
	}

	r.logger.Info("instance registered",
		clog.String("service", svc.String()),
		clog.String("instance_id", ins.ID),
		clog.String("address", ins.Address()))
	return nil
}

func (r *etcdSource) Deregister(ctx context.Context, svc Service, instanceID string) error {
	if !validSegment(svc.Namespace) || !validSegment(svc.Name) {
		return ErrInvalidService
	}
	if !validSegment(instanceID) {
		return ErrInvalidInstance
	}

	key := buildKey(r.cfg.Prefix, svc, instanceID)
	if _, err := r.client.Delete(ctx, key); err != nil {
		r.logger.Error("failed to delete instance",
			clog.String("key", key),
			clog.Error(err))
		return xerrors.Wrap(err, "delete instance failed")
	}

	r.logger.Info("instance deregistered",
		clog.String("service", svc.String()),
		clog.String("instance_id", instanceID))
	return nil
}

// Watch 监听前缀下的变化
// 通道关闭或出错时自动重连，使用 WithRev 从上次处理的位置继续，避免丢事件
func (r *etcdSource) Watch(ctx context.Context) (<-chan Service, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	eventCh := make(chan Service, 100)
	prefix := r.cfg.Prefix + "/"

	go func() {
		defer close(eventCh)

		var lastRev int64
		for {
			watchOpts := []clientv3.OpOption{clientv3.WithPrefix(), clientv3.WithKeysOnly()}
			if lastRev > 0 {
				watchOpts = append(watchOpts, clientv3.WithRev(lastRev+1))
			}
			watchCh := r.client.Watch(ctx, prefix, watchOpts...)
			r.logger.Debug("watch started", clog.Int64("from_revision", lastRev+1))

			lastRev = r.consume(ctx, watchCh, eventCh, lastRev)

			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.RetryInterval):
				r.logger.Warn("retrying watch", clog.Duration("after", r.cfg.RetryInterval))
			}
		}
	}()

	return eventCh, nil
}

// consume 处理一个 watch 通道直到它关闭或出错，返回最后处理的 revision
func (r *etcdSource) consume(ctx context.Context, watchCh clientv3.WatchChan, out chan<- Service, lastRev int64) int64 {
	for {
		select {
		case <-ctx.Done():
			return lastRev

		case wresp, ok := <-watchCh:
			if !ok {
				r.logger.Warn("watch channel closed, will retry")
				return lastRev
			}
			if err := wresp.Err(); err != nil {
				if xerrors.Is(err, rpctypes.ErrCompacted) {
					// 被压缩的历史无法补齐，从当前 revision 继续，下游靠定时全量同步兜底
					r.logger.Warn("watch revision compacted, resuming from current revision")
					if resp, getErr := r.client.Get(ctx, r.cfg.Prefix+"/", clientv3.WithPrefix(), clientv3.WithCountOnly()); getErr == nil {
						lastRev = resp.Header.Revision
					}
					return lastRev
				}
				r.logger.Error("watch error, will retry", clog.Error(err))
				return lastRev
			}

			for _, ev := range wresp.Events {
				if ev.Kv.ModRevision > lastRev {
					lastRev = ev.Kv.ModRevision
				}
				svc, _, ok := ParseKey(r.cfg.Prefix, string(ev.Kv.Key))
				if !ok {
					continue
				}
				select {
				case out <- svc:
				case <-ctx.Done():
					return lastRev
				}
			}
		}
	}
}
