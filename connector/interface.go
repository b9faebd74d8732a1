// Package connector 管理 kongsync 依赖的外部连接，目前只有注册中心使用的 Etcd。
//
// 基本使用：
//
//	conn, err := connector.NewEtcd(&connector.EtcdConfig{
//		Endpoints: []string{"127.0.0.1:2379"},
//	}, connector.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	// 幂等，可多次调用
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//	src, err := registry.New(conn, &cfg.Registry)
//
// 资源所有权：Connector 拥有底层连接的生命周期，registry 只借用客户端，
// 不调用 Close()。应用层按 LIFO 顺序释放资源。
package connector

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Connector 定义连接器的通用行为，方法均为并发安全。
type Connector interface {
	// Connect 探测连接是否可用，可安全多次调用
	Connect(ctx context.Context) error

	// Close 关闭连接并释放资源，可安全多次调用
	Close() error

	// HealthCheck 发送探测请求，并更新 IsHealthy 的缓存结果
	HealthCheck(ctx context.Context) error

	// IsHealthy 返回最后一次探测的结果，不阻塞
	IsHealthy() bool

	// Name 返回连接实例名称，用于日志和指标
	Name() string
}

// TypedConnector 提供类型安全的客户端访问
type TypedConnector[T any] interface {
	Connector

	// GetClient 返回底层客户端，Close() 之后不应再使用
	GetClient() T
}

// EtcdConnector Etcd 连接器接口
type EtcdConnector interface {
	TypedConnector[*clientv3.Client]
}
