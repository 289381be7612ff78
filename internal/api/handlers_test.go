package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marketsync/stock-reconciler/internal/checkpoint"
	"github.com/marketsync/stock-reconciler/internal/event"
	"github.com/marketsync/stock-reconciler/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type stubSync struct {
	startErr error
	started  []event.StockSyncRequest
	cp       checkpoint.Checkpoint
	running  bool
}

func (s *stubSync) StartSync(_ context.Context, req event.StockSyncRequest) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = append(s.started, req)
	return nil
}

func (s *stubSync) LastSyncInfo(context.Context) (checkpoint.Checkpoint, error) {
	return s.cp, nil
}

func (s *stubSync) IsRunning() bool { return s.running }

type stubBackfill struct {
	processed int
	err       error
	from, to  time.Time
	pageSize  int
}

func (b *stubBackfill) Run(_ context.Context, from, to time.Time, pageSize int) (int, error) {
	b.from, b.to, b.pageSize = from, to, pageSize
	return b.processed, b.err
}

func newTestRouter(sync *stubSync, backfill *stubBackfill) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler("stock-reconciler", sync, backfill, otel.Tracer("test"), zap.NewNop())
	return NewRouter(h)
}

func TestForceSyncAccepted(t *testing.T) {
	sync := &stubSync{}
	router := newTestRouter(sync, &stubBackfill{})

	body := `{"request_id":"req-1","company_id":"company-1","offer_id":"SKU1","quantity":10,
		"warehouses":[{"warehouse_id":"wh-1","marketplace":"OZON"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync/force", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "IN_PROGRESS")
	require.Len(t, sync.started, 1)
	assert.Equal(t, "req-1", sync.started[0].RequestID)
}

func TestForceSyncConflictWhenRunning(t *testing.T) {
	sync := &stubSync{startErr: syncer.ErrSyncInProgress, running: true}
	router := newTestRouter(sync, &stubBackfill{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync/force", strings.NewReader(`{"offer_id":"SKU1"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "in progress")
}

func TestForceSyncRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(&stubSync{}, &stubBackfill{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync/force", strings.NewReader(`{not json`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncStatusNeverSynced(t *testing.T) {
	sync := &stubSync{cp: checkpoint.NeverSynced("OZON_STOCK_SYNC")}
	router := newTestRouter(sync, &stubBackfill{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sync/status", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "NEVER_SYNCED")
}

func TestSyncStatusReportsLastRun(t *testing.T) {
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	sync := &stubSync{cp: checkpoint.Checkpoint{
		Name:           "OZON_STOCK_SYNC",
		Status:         checkpoint.StatusSuccess,
		LastSyncAt:     &at,
		ItemsProcessed: 12,
		DurationMs:     340,
	}}
	router := newTestRouter(sync, &stubBackfill{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sync/status", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"SUCCESS"`)
	assert.Contains(t, w.Body.String(), `"items_processed":12`)
}

func TestOrdersBackfill(t *testing.T) {
	backfill := &stubBackfill{processed: 37}
	router := newTestRouter(&stubSync{}, backfill)

	body := `{"from":"2026-08-01T00:00:00Z","to":"2026-08-15T00:00:00Z"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders/fbo/backfill?pageSize=100", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"processed":37`)
	assert.Equal(t, 100, backfill.pageSize)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), backfill.from)
}

func TestOrdersBackfillValidation(t *testing.T) {
	router := newTestRouter(&stubSync{}, &stubBackfill{})

	cases := []struct {
		name  string
		body  string
		query string
	}{
		{name: "missing range", body: `{}`},
		{name: "inverted range", body: `{"from":"2026-08-15T00:00:00Z","to":"2026-08-01T00:00:00Z"}`},
		{name: "bad page size", body: `{"from":"2026-08-01T00:00:00Z","to":"2026-08-15T00:00:00Z"}`, query: "?pageSize=zero"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/orders/fbo/backfill"+tc.query, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&stubSync{}, &stubBackfill{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
