package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"metax/internal/cache"
	"metax/internal/v2sync"
	"metax/pkg/domain"
)

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()
	m.Observe(ctx, "dataset.publish", true, time.Millisecond)
	m.Observe(ctx, "dataset.publish", false, time.Millisecond)
	m.Observe(ctx, "v2_sync_update", false, time.Second)
	m.Observe(ctx, "rems_publish", true, time.Second)
	m.Observe(ctx, "", true, time.Second)
	m.ObserveRequest("/v3/datasets", http.MethodGet, 200)

	require.Equal(t, 1.0, testutil.ToFloat64(m.published))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("dataset.publish", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.syncs.WithLabelValues("update", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rems.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/v3/datasets", "GET", "200")))

	c := cache.New(4, nil)
	c.Put(domain.Dataset{Base: domain.Base{ID: "a"}}, []byte("{}"))
	m.RegisterCache(c)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `metax_v2_syncs_total{action="update",status="error"} 1`)
	require.Contains(t, body, "metax_cache_entries 1")
	require.True(t, strings.Contains(body, "go_goroutines"))
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeSync struct{ h v2sync.Health }

func (s fakeSync) Check(context.Context) (v2sync.Health, error) { return s.h, nil }

type fakeREMS struct{ n int }

func (r fakeREMS) PublishErrors(context.Context) (int, error) { return r.n, nil }

func TestWatchman(t *testing.T) {
	w := &Watchman{Storage: fakePinger{}, Sync: fakeSync{v2sync.Health{OK: true}}}
	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/watchman", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"databases": [{"default": {"ok": true}}], "sync_to_v2": {"ok": true}}`, rec.Body.String())

	w = &Watchman{
		Storage: fakePinger{},
		Sync:    fakeSync{v2sync.Health{Failed: map[domain.SyncAction]int{domain.SyncUpdate: 2}, Stuck: 1}},
		REMS:    fakeREMS{n: 3},
	}
	rec = httptest.NewRecorder()
	w.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/watchman", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{
		"databases": [{"default": {"ok": true}}],
		"sync_to_v2": {"ok": false, "fails": {"update": 2, "stuck": 1}},
		"rems_publish": {"ok": false, "fails": 3}
	}`, rec.Body.String())

	report := (&Watchman{Storage: fakePinger{err: errors.New("db down")}}).Run(context.Background())
	require.False(t, report.OK())
	require.Equal(t, "db down", report.Databases[0]["default"].Error)
}
