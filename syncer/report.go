package syncer

import (
	"context"
	"sync"

	"github.com/ceyewan/kongsync/metrics"
)

// 对象种类和操作，用作指标标签
const (
	KindService  = "service"
	KindUpstream = "upstream"
	KindTarget   = "target"

	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Report 一轮同步对 Kong 做的变更
type Report struct {
	Services         int // 本轮同步的注册中心服务数
	ServicesCreated  int
	ServicesUpdated  int
	ServicesDeleted  int
	UpstreamsCreated int
	UpstreamsDeleted int
	TargetsCreated   int
	TargetsDeleted   int
	Failed           int // 同步失败的服务数
}

// Changed 是否对 Kong 做了任何变更
func (r Report) Changed() bool {
	return r.ServicesCreated+r.ServicesUpdated+r.ServicesDeleted+
		r.UpstreamsCreated+r.UpstreamsDeleted+r.TargetsCreated+r.TargetsDeleted > 0
}

// recorder 并发累计 Report，同时写入指标
type recorder struct {
	mu      sync.Mutex
	report  Report
	objects metrics.Counter
}

func (r *recorder) record(ctx context.Context, kind, action string) {
	r.mu.Lock()
	switch kind + "/" + action {
	case KindService + "/" + ActionCreate:
		r.report.ServicesCreated++
	case KindService + "/" + ActionUpdate:
		r.report.ServicesUpdated++
	case KindService + "/" + ActionDelete:
		r.report.ServicesDeleted++
	case KindUpstream + "/" + ActionCreate:
		r.report.UpstreamsCreated++
	case KindUpstream + "/" + ActionDelete:
		r.report.UpstreamsDeleted++
	case KindTarget + "/" + ActionCreate:
		r.report.TargetsCreated++
	case KindTarget + "/" + ActionDelete:
		r.report.TargetsDeleted++
	}
	r.mu.Unlock()
	r.objects.Inc(ctx, metrics.L(metrics.LabelKind, kind), metrics.L(metrics.LabelAction, action))
}

func (r *recorder) failed() {
	r.mu.Lock()
	r.report.Failed++
	r.mu.Unlock()
}

func (r *recorder) snapshot() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}
