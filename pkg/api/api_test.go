package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/geo"
	"github.com/jdziat/geo-ingest/pkg/query"
	"github.com/jdziat/geo-ingest/pkg/queue"
	"github.com/jdziat/geo-ingest/pkg/recorder"
	"github.com/jdziat/geo-ingest/pkg/session"
	"github.com/jdziat/geo-ingest/pkg/storage"
	"github.com/jdziat/geo-ingest/pkg/storage/storagetest"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const threePlacemarks = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2"><Document>
  <Placemark><name>a</name><Point><coordinates>23.72,37.98</coordinates></Point></Placemark>
  <Placemark><name>b</name><Point><coordinates>22.94,40.64</coordinates></Point></Placemark>
  <Placemark><name>c</name><Point><coordinates>21.73,38.24</coordinates></Point></Placemark>
</Document></kml>`

// fakeTables reads the source with the real readers and stops short of a database.
type fakeTables struct {
	mu       sync.Mutex
	requests []core.IngestRequest
	existing map[string]bool
	dropped  []string
	dropErr  error
}

func (f *fakeTables) Ingest(_ context.Context, req core.IngestRequest) (*core.IngestResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if req.WorkDir != "" {
		defer os.RemoveAll(req.WorkDir)
	}
	if req.Schema == "missing" {
		return nil, &core.SchemaMissingError{Schema: req.Schema}
	}
	if req.Table == "boom" {
		panic("reader exploded")
	}
	layer, err := geo.Read(req.Source, geo.ReadOptions{Encoding: req.Encoding, CRS: req.CRS})
	if err != nil {
		return nil, err
	}
	return &core.IngestResult{Schema: req.Schema, Table: req.Table, RowCount: int64(len(layer.Features))}, nil
}

func (f *fakeTables) TableExists(_ context.Context, schema, table string) (bool, error) {
	return f.existing[schema+"."+table], nil
}

func (f *fakeTables) DropTable(_ context.Context, schema, table string) error {
	if f.dropErr != nil {
		return f.dropErr
	}
	f.mu.Lock()
	f.dropped = append(f.dropped, schema+"."+table)
	f.mu.Unlock()
	return nil
}

func (f *fakeTables) last() core.IngestRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakePublisher struct {
	published   []core.PublishRequest
	unpublished []string
}

func (p *fakePublisher) Publish(_ context.Context, req core.PublishRequest) (*core.PublishResult, error) {
	p.published = append(p.published, req)
	return &core.PublishResult{WMS: "wms/" + req.Table, WFS: "wfs/" + req.Table}, nil
}

func (p *fakePublisher) Unpublish(_ context.Context, workspace, layer string) error {
	p.unpublished = append(p.unpublished, workspace+":"+layer)
	return nil
}

type testEnv struct {
	store    *storage.GormStorage
	q        *queue.Queue
	tables   *fakeTables
	pub      *fakePublisher
	tempDir  string
	inputDir string
	router   *gin.Engine
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newEnv(t *testing.T, startWorker bool, opts ...Option) *testEnv {
	t.Helper()
	e := &testEnv{
		store:    storagetest.New(t),
		tables:   &fakeTables{existing: map[string]bool{}},
		pub:      &fakePublisher{},
		tempDir:  t.TempDir(),
		inputDir: t.TempDir(),
	}
	logger := quietLogger()
	e.q = queue.New(session.NewAllocator(e.store), recorder.New(e.store), queue.WithLogger(logger))
	if startWorker {
		w := e.q.NewWorker()
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = w.Start(ctx)
			close(done)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	base := []Option{
		WithPublisher(e.pub),
		WithStats(e.store),
		WithTempDir(e.tempDir),
		WithInputDir(e.inputDir),
		WithLogger(logger),
	}
	srv := New(e.q, query.New(e.store), e.tables, append(base, opts...)...)
	e.router = srv.Router()
	return e
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) ticketCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.store.DB().Model(&core.QueueRecord{}).Count(&n).Error)
	return n
}

// waitStatus polls GET /status until the ticket completes.
func (e *testEnv) waitStatus(t *testing.T, ticket string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := e.do(httptest.NewRequest(http.MethodGet, "/status/"+ticket, nil))
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		if body["completed"] == true {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ticket %s never completed", ticket)
	return nil
}

func uploadRequest(t *testing.T, path string, fields map[string]string, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("resource", filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func formRequest(method, path string, values url.Values) *http.Request {
	if method == http.MethodDelete {
		return httptest.NewRequest(method, path+"?"+values.Encode(), nil)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestIngest_PromptUpload(t *testing.T) {
	e := newEnv(t, false)

	w := e.do(uploadRequest(t, "/ingest", map[string]string{"response": "prompt"}, "places.kml", threePlacemarks))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, float64(3), body["length"])
	assert.Equal(t, "public", body["schema"])
	assert.Equal(t, "prompt", body["type"])
	table, _ := body["table"].(string)
	assert.Regexp(t, `^t[0-9a-f]{32}$`, table)

	req := e.tables.last()
	assert.Equal(t, filepath.Join(e.tempDir, "ingest", "src"), filepath.Dir(req.WorkDir))
	assert.Equal(t, "places.kml", filepath.Base(req.Source))
	assert.Equal(t, "utf-8", req.Encoding)
	assert.NoDirExists(t, req.WorkDir)
}

func TestIngest_PromptResultIsQueryable(t *testing.T) {
	e := newEnv(t, false)

	w := e.do(uploadRequest(t, "/ingest", map[string]string{"tablename": "places"}, "places.kml", threePlacemarks))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rec core.QueueRecord
	require.NoError(t, e.store.DB().First(&rec).Error)
	require.NoError(t, rec.CheckConsistency())

	w = e.do(httptest.NewRequest(http.MethodGet, "/result/"+rec.Ticket, nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "places", body["table"])
	assert.Equal(t, float64(3), body["length"])
}

func TestIngest_DeferredWithKey(t *testing.T) {
	e := newEnv(t, true)

	req := uploadRequest(t, "/ingest", map[string]string{"response": "deferred"}, "places.kml", threePlacemarks)
	req.Header.Set(IdempotencyHeader, "K1")
	w := e.do(req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	body := decode(t, w)
	ticket := body["ticket"].(string)
	assert.Len(t, ticket, 32)
	assert.Equal(t, "/status/"+ticket, body["status"])
	assert.Equal(t, "deferred", body["type"])

	status := e.waitStatus(t, ticket)
	assert.Equal(t, true, status["success"])
	assert.Nil(t, status["comment"])

	w = e.do(httptest.NewRequest(http.MethodGet, "/ticket_by_key/K1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	ref := decode(t, w)
	assert.Equal(t, ticket, ref["ticket"])
	assert.Equal(t, "ingest", ref["request"])

	t.Run("reused key is rejected without a new ticket", func(t *testing.T) {
		before := e.ticketCount(t)
		req := uploadRequest(t, "/ingest", map[string]string{"response": "deferred"}, "places.kml", threePlacemarks)
		req.Header.Set(IdempotencyHeader, "K1")
		w := e.do(req)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w), IdempotencyHeader)
		assert.Equal(t, before, e.ticketCount(t))

		entries, err := os.ReadDir(filepath.Join(e.tempDir, "ingest", "src"))
		require.NoError(t, err)
		assert.Empty(t, entries, "upload of a rejected request is removed")
	})
}

func TestIngest_DeferredStatusIsPendingFirst(t *testing.T) {
	e := newEnv(t, false)
	w := e.q.NewWorker()

	rec := e.do(uploadRequest(t, "/ingest", map[string]string{"response": "deferred"}, "places.kml", threePlacemarks))
	require.Equal(t, http.StatusAccepted, rec.Code)
	ticket := decode(t, rec)["ticket"].(string)

	status := decode(t, e.do(httptest.NewRequest(http.MethodGet, "/status/"+ticket, nil)))
	assert.Equal(t, false, status["completed"])
	assert.Nil(t, status["success"])
	assert.Equal(t, 1, w.Pending())
}

func TestStatus_Unknown(t *testing.T) {
	e := newEnv(t, false)

	w := e.do(httptest.NewRequest(http.MethodGet, "/status/unknown-ticket", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(httptest.NewRequest(http.MethodGet, "/status/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(httptest.NewRequest(http.MethodGet, "/result/unknown-ticket", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(httptest.NewRequest(http.MethodGet, "/ticket_by_key/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngest_MissingSchema(t *testing.T) {
	t.Run("prompt", func(t *testing.T) {
		e := newEnv(t, false)
		w := e.do(uploadRequest(t, "/ingest", map[string]string{"schema": "missing"}, "places.kml", threePlacemarks))
		require.Equal(t, http.StatusBadRequest, w.Code)
		body := decode(t, w)
		assert.Equal(t, []any{`Schema "missing" does not exist.`}, body["schema"])
	})

	t.Run("deferred", func(t *testing.T) {
		e := newEnv(t, true)
		w := e.do(uploadRequest(t, "/ingest", map[string]string{"schema": "missing", "response": "deferred"}, "places.kml", threePlacemarks))
		require.Equal(t, http.StatusAccepted, w.Code)
		ticket := decode(t, w)["ticket"].(string)

		status := e.waitStatus(t, ticket)
		assert.Equal(t, false, status["success"])
		assert.Contains(t, status["comment"], `Schema "missing" does not exist.`)

		w = e.do(httptest.NewRequest(http.MethodGet, "/result/"+ticket, nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestIngest_Validation(t *testing.T) {
	e := newEnv(t, false)

	w := e.do(uploadRequest(t, "/ingest", map[string]string{
		"response":  "later",
		"encoding":  "klingon",
		"crs":       "WGS84",
		"tablename": "1abc",
		"replace":   "maybe",
	}, "", ""))
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decode(t, w)
	for _, field := range []string{"response", "encoding", "crs", "tablename", "replace", "resource"} {
		assert.Contains(t, body, field)
	}
	assert.Equal(t, []any{"Field is required."}, body["resource"])
	assert.Zero(t, e.ticketCount(t))
}

func TestIngest_InvalidKey(t *testing.T) {
	e := newEnv(t, false)

	req := uploadRequest(t, "/ingest", nil, "places.kml", threePlacemarks)
	req.Header.Set(IdempotencyHeader, strings.Repeat("k", 256))
	w := e.do(req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w), IdempotencyHeader)
}

func TestIngest_ResourcePath(t *testing.T) {
	e := newEnv(t, false)
	require.NoError(t, os.MkdirAll(filepath.Join(e.inputDir, "kml"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.inputDir, "kml", "places.kml"), []byte(threePlacemarks), 0o644))

	w := e.do(formRequest(http.MethodPost, "/ingest", url.Values{"resource": {"kml/places.kml"}, "replace": {"true"}}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	req := e.tables.last()
	assert.Equal(t, filepath.Join(e.inputDir, "kml", "places.kml"), req.Source)
	assert.True(t, req.Replace)
	assert.Empty(t, req.WorkDir)
	assert.FileExists(t, req.Source, "input files are never removed")

	for _, bad := range []string{"../outside.kml", "kml/absent.kml"} {
		w := e.do(formRequest(http.MethodPost, "/ingest", url.Values{"resource": {bad}}))
		require.Equal(t, http.StatusBadRequest, w.Code, bad)
		assert.Equal(t, []any{"Field must represent a path in the filesystem."}, decode(t, w)["resource"])
	}
}

func TestIngest_MultipartResourcePath(t *testing.T) {
	e := newEnv(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(e.inputDir, "places.kml"), []byte(threePlacemarks), 0o644))

	w := e.do(uploadRequest(t, "/ingest", map[string]string{"resource": "places.kml", "tablename": "places"}, "", ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(3), decode(t, w)["length"])
	assert.Equal(t, filepath.Join(e.inputDir, "places.kml"), e.tables.last().Source)
}

func TestIngest_DeferredUploadRemovedWhenNeverRun(t *testing.T) {
	e := newEnv(t, false)
	w := e.q.NewWorker()

	rec := e.do(uploadRequest(t, "/ingest", map[string]string{"response": "deferred"}, "places.kml", threePlacemarks))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	ticket := decode(t, rec)["ticket"].(string)

	entries, err := os.ReadDir(filepath.Join(e.tempDir, "ingest", "src"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "upload waits for the worker")

	stopped, cancel := context.WithCancel(context.Background())
	cancel()
	_ = w.Start(stopped)

	status := e.waitStatus(t, ticket)
	assert.Equal(t, false, status["success"])
	entries, err = os.ReadDir(filepath.Join(e.tempDir, "ingest", "src"))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, e.tables.requests)
}

func TestIngest_FormatError(t *testing.T) {
	e := newEnv(t, false)

	w := e.do(uploadRequest(t, "/ingest", nil, "notes.pdf", "just words"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	msgs, ok := decode(t, w)["resource"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Unreadable vector source")
	assert.NotContains(t, msgs[0], e.tempDir)
}

func TestFormatMessage_HidesServerPaths(t *testing.T) {
	dir := filepath.Join(os.TempDir(), "ingest", "src", "0b6e")
	path := filepath.Join(dir, "roads.shp")
	tests := []struct {
		name string
		err  *core.FormatError
		want string
	}{
		{
			name: "cause repeats the path",
			err:  &core.FormatError{Path: path, Err: &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}},
			want: "Unreadable vector source: open roads.shp: file does not exist",
		},
		{
			name: "cause names a sibling",
			err:  &core.FormatError{Path: path, Err: fmt.Errorf("open attribute table: open %s: denied", filepath.Join(dir, "roads.dbf"))},
			want: "Unreadable vector source: open attribute table: open roads.dbf: denied",
		},
		{
			name: "no cause",
			err:  &core.FormatError{Path: path},
			want: "Unreadable vector source: unknown error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatMessage(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, dir)
		})
	}
}

func TestIngest_PanicIsInternalError(t *testing.T) {
	e := newEnv(t, false)

	w := e.do(uploadRequest(t, "/ingest", map[string]string{"tablename": "boom"}, "places.kml", threePlacemarks))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Internal server error.", body["error"])
	assert.NotContains(t, w.Body.String(), "reader exploded")

	var rec core.QueueRecord
	require.NoError(t, e.store.DB().First(&rec).Error)
	assert.Equal(t, rec.Ticket, body["ticket"])
	require.NotNil(t, rec.Success)
	assert.False(t, *rec.Success)
	assert.Contains(t, *rec.ErrorMessage, "reader exploded")
}

func TestIngest_WorkerUnavailable(t *testing.T) {
	e := newEnv(t, false)

	w := e.do(uploadRequest(t, "/ingest", map[string]string{"response": "deferred"}, "places.kml", threePlacemarks))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	ticket := decode(t, w)["ticket"].(string)

	status := e.waitStatus(t, ticket)
	assert.Equal(t, false, status["success"])
	assert.Contains(t, status["comment"], core.ErrWorkerStopped.Error())

	entries, err := os.ReadDir(filepath.Join(e.tempDir, "ingest", "src"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPublish(t *testing.T) {
	e := newEnv(t, false)
	e.tables.existing["public.roads"] = true

	w := e.do(formRequest(http.MethodPost, "/publish", url.Values{"table": {"roads"}}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]any{"wms": "wms/roads", "wfs": "wfs/roads"}, decode(t, w))
	assert.Equal(t, []core.PublishRequest{{Schema: "public", Table: "roads"}}, e.pub.published)

	w = e.do(formRequest(http.MethodPost, "/publish", url.Values{"table": {"rivers"}}))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []any{`Table "public"."rivers" does not exist.`}, decode(t, w)["table"])

	w = e.do(formRequest(http.MethodPost, "/publish", url.Values{}))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []any{"Field is required."}, decode(t, w)["table"])
}

func TestPublish_Deferred(t *testing.T) {
	e := newEnv(t, true)
	e.tables.existing["geo.roads"] = true

	w := e.do(formRequest(http.MethodPost, "/publish", url.Values{"table": {"roads"}, "schema": {"geo"}, "response": {"deferred"}}))
	require.Equal(t, http.StatusAccepted, w.Code)
	ticket := decode(t, w)["ticket"].(string)

	e.waitStatus(t, ticket)
	w = e.do(httptest.NewRequest(http.MethodGet, "/result/"+ticket, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"wms": "wms/roads", "wfs": "wfs/roads"}, decode(t, w))
}

func TestPublish_Disabled(t *testing.T) {
	e := newEnv(t, false, WithPublisher(nil))

	w := e.do(formRequest(http.MethodPost, "/publish", url.Values{"table": {"roads"}}))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = e.do(formRequest(http.MethodDelete, "/publish", url.Values{"table": {"roads"}}))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDrop(t *testing.T) {
	e := newEnv(t, false)

	w := e.do(formRequest(http.MethodDelete, "/ingest", url.Values{"table": {"roads"}}))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"public.roads"}, e.tables.dropped)

	w = e.do(formRequest(http.MethodDelete, "/ingest", url.Values{"table": {"roads;drop"}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.tables.dropErr = &core.DependentObjectsError{Schema: "public", Table: "roads", Err: errors.New("2BP01")}
	w = e.do(formRequest(http.MethodDelete, "/ingest", url.Values{"table": {"roads"}}))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w), "table")
}

func TestUnpublish(t *testing.T) {
	e := newEnv(t, false)

	w := e.do(formRequest(http.MethodDelete, "/publish", url.Values{"table": {"roads"}, "workspace": {"maps"}}))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"maps:roads"}, e.pub.unpublished)
}

func TestHealth(t *testing.T) {
	ok := HealthCheck{Reason: "queue store unreachable", Check: func(context.Context) error { return nil }}
	down := HealthCheck{Reason: "cannot connect to PostGIS backend", Check: func(context.Context) error { return errors.New("refused") }}

	e := newEnv(t, false, WithHealthChecks(ok))
	w := e.do(httptest.NewRequest(http.MethodGet, "/_health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"status": "OK"}, decode(t, w))

	e = newEnv(t, false, WithHealthChecks(ok, down))
	w = e.do(httptest.NewRequest(http.MethodGet, "/_health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{
		"status": "FAILED",
		"reason": "cannot connect to PostGIS backend",
		"detail": "refused",
	}, decode(t, w))

	e = newEnv(t, false, WithTempDir(filepath.Join(t.TempDir(), "absent")))
	w = e.do(httptest.NewRequest(http.MethodGet, "/_health", nil))
	assert.Equal(t, "temp directory not writable", decode(t, w)["reason"])
}

func TestStats(t *testing.T) {
	e := newEnv(t, false)
	e.do(uploadRequest(t, "/ingest", nil, "places.kml", threePlacemarks))
	e.do(uploadRequest(t, "/ingest", map[string]string{"schema": "missing"}, "places.kml", threePlacemarks))

	w := e.do(httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Kinds []storage.KindStats `json:"kinds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Kinds, 1)
	assert.Equal(t, storage.KindStats{Kind: core.KindIngest, Succeeded: 1, Failed: 1}, body.Kinds[0])
}

func TestCorrelationID(t *testing.T) {
	e := newEnv(t, false)

	req := httptest.NewRequest(http.MethodGet, "/_health", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	w := e.do(req)
	assert.Equal(t, "abc-123", w.Header().Get(CorrelationHeader))

	w = e.do(httptest.NewRequest(http.MethodGet, "/_health", nil))
	assert.Len(t, w.Header().Get(CorrelationHeader), 36)
}

func TestCORS(t *testing.T) {
	e := newEnv(t, false, WithCORS("https://maps.example.org"))

	req := httptest.NewRequest(http.MethodOptions, "/ingest", nil)
	req.Header.Set("Origin", "https://maps.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := e.do(req)
	assert.Equal(t, "https://maps.example.org", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUploadName(t *testing.T) {
	tests := map[string]string{
		"places.kml":           "places.kml",
		"../../etc/passwd":     "passwd",
		`C:\data\roads v2.zip`: "roads_v2.zip",
		"..":                   "upload",
		"ΧΑΡΤΗΣ.kml":           "kml",
	}
	for in, want := range tests {
		assert.Equal(t, want, uploadName(in), in)
	}
}
