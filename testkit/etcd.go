package testkit

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ceyewan/kongsync/connector"
)

// GetEtcdConfig 返回 Etcd 测试配置
// 默认连接 localhost:2379，可通过 ETCD_ENDPOINTS（逗号分隔）覆盖
func GetEtcdConfig() *connector.EtcdConfig {
	endpoints := []string{"localhost:2379"}
	if env := os.Getenv("ETCD_ENDPOINTS"); env != "" {
		endpoints = strings.Split(env, ",")
	}
	return &connector.EtcdConfig{
		Name:        "test-etcd",
		Endpoints:   endpoints,
		DialTimeout: 2 * time.Second,
	}
}

// GetEtcdConnector 获取已连接的 Etcd 连接器，Etcd 不可用时跳过测试
// 生命周期由 t.Cleanup 管理
func GetEtcdConnector(t *testing.T) connector.EtcdConnector {
	t.Helper()

	conn, err := connector.NewEtcd(GetEtcdConfig(), connector.WithLogger(NewLogger()))
	if err != nil {
		t.Skipf("etcd not available, skipping: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		t.Skipf("etcd not available, skipping: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
