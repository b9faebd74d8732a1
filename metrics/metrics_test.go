package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/kongsync/clog"
)

func scrape(t *testing.T, m Meter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	m, err := New(&Config{Enabled: false})
	require.NoError(t, err)
	assert.Equal(t, Discard(), m)

	m, err = New(NewDevDefaultConfig("kongsync-test"), WithLogger(clog.Discard()))
	require.NoError(t, err)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestMeter_RecordAndScrape(t *testing.T) {
	m, err := New(NewDevDefaultConfig("kongsync-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	ctx := context.Background()

	objects, err := m.Counter("kongsync_objects_total", "网关对象变更次数")
	require.NoError(t, err)
	objects.Inc(ctx, L(LabelKind, "target"), L(LabelAction, "create"))
	objects.Add(ctx, 2, L(LabelKind, "upstream"), L(LabelAction, "delete"))

	services, err := m.Gauge("kongsync_services", "当前同步的服务数")
	require.NoError(t, err)
	services.Set(ctx, 3)
	services.Inc(ctx)
	services.Dec(ctx)

	duration, err := m.Histogram("kongsync_sync_duration_seconds", "单轮同步耗时", WithUnit("s"))
	require.NoError(t, err)
	duration.Record(ctx, 0.25, L(LabelOutcome, OutcomeSuccess))

	body := scrape(t, m)
	assert.Contains(t, body, "kongsync_objects_total")
	assert.Contains(t, body, `kind="target"`)
	assert.Contains(t, body, "kongsync_services")
	assert.Contains(t, body, "kongsync_sync_duration_seconds")
}

func TestDiscard(t *testing.T) {
	m := Discard()
	ctx := context.Background()

	c, err := m.Counter("c", "")
	require.NoError(t, err)
	c.Inc(ctx)
	g, err := m.Gauge("g", "")
	require.NoError(t, err)
	g.Set(ctx, 1)
	h, err := m.Histogram("h", "")
	require.NoError(t, err)
	h.Record(ctx, 1)

	assert.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 404, func() int {
		rec := httptest.NewRecorder()
		Handler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		return rec.Code
	}())
}

func TestLabelHelpers(t *testing.T) {
	assert.Equal(t, Label{Key: "kind", Value: "service"}, L("kind", "service"))
	assert.Equal(t, "2xx", HTTPStatusClass(201))
	assert.Equal(t, "5xx", HTTPStatusClass(503))
	assert.Equal(t, "unknown", HTTPStatusClass(42))
	assert.Equal(t, OutcomeSuccess, Outcome(nil))
	assert.Equal(t, OutcomeError, Outcome(errors.New("x")))
	assert.Equal(t, "a=1|b=2", labelKey([]Label{L("a", "1"), L("b", "2")}))
}

func TestNew_RuntimeMetrics(t *testing.T) {
	cfg := NewDevDefaultConfig("runtime-test")
	cfg.Runtime = true
	m, err := New(cfg, WithLogger(clog.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	assert.Contains(t, scrape(t, m), "go_goroutine")
}
