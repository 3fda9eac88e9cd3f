package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/disaster-coordination-service/internal/adapter/http"
	"github.com/couchcryptid/disaster-coordination-service/internal/adapter/ws"
	"github.com/couchcryptid/disaster-coordination-service/internal/audit"
	"github.com/couchcryptid/disaster-coordination-service/internal/auth"
	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/couchcryptid/disaster-coordination-service/internal/hub"
	"github.com/couchcryptid/disaster-coordination-service/internal/lookup"
	"github.com/couchcryptid/disaster-coordination-service/internal/observability"
	"github.com/couchcryptid/disaster-coordination-service/internal/store"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type env struct {
	srv   *httpadapter.Server
	store *store.Store
	hub   *hub.Hub
}

type options struct {
	openReads bool
	rateLimit int
	readyErr  error
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T, opts options) env {
	t.Helper()
	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClockAt(time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC))

	h := hub.New(64, logger, metrics)
	t.Cleanup(h.Close)
	auditLog := audit.NewLog(logger)
	s, err := store.New(context.Background(), store.NewMemoryBackend(), h, auditLog, logger, metrics, store.WithClock(clock))
	require.NoError(t, err)

	gateway := lookup.New(lookup.Options{Timeout: time.Second, CacheTTL: time.Hour}, nil,
		lookup.NewStaticFeeds(clock), h, logger, metrics)

	srv := httpadapter.NewServer(":0", httpadapter.Deps{
		Store:              s,
		Audit:              auditLog,
		Lookups:            gateway,
		Guard:              auth.NewGuard(auth.NewJWTAuthenticator(testSecret), "admin", opts.openReads, logger),
		Events:             ws.NewHandler(h, logger),
		Ready:              &mockReadiness{err: opts.readyErr},
		Metrics:            metrics,
		RateLimitPerMinute: opts.rateLimit,
	}, logger)
	return env{srv: srv, store: s, hub: h}
}

func token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := auth.NewToken(testSecret, user, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e env) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var nycFlood = map[string]any{
	"title":         "NYC Flood",
	"location_name": "Manhattan, NYC",
	"description":   "Heavy flooding in Manhattan area",
	"tags":          []string{"flood", "urgent"},
}

// --- ops endpoints ---

func TestHealthzReturns200(t *testing.T) {
	e := newEnv(t, options{})
	rec := e.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	e := newEnv(t, options{readyErr: fmt.Errorf("not ready yet")})
	rec := e.do(t, http.MethodGet, "/readyz", "", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	e := newEnv(t, options{})
	rec := e.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t, options{})
	rec := e.do(t, http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// --- disasters ---

func TestCreate_AccessControl(t *testing.T) {
	e := newEnv(t, options{})

	rec := e.do(t, http.MethodPost, "/disasters", "", nycFlood)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/disasters", token(t, "citizen1", "contributor"), nycFlood)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, e.store.Len(), "rejected requests must not reach the store")

	rec = e.do(t, http.MethodPost, "/disasters", token(t, "netrunnerX", "admin"), nycFlood)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	d := decode[domain.Disaster](t, rec)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "netrunnerX", d.OwnerID)
	assert.Equal(t, []string{"flood", "urgent"}, d.Tags)
	assert.Empty(t, d.AuditTrail)
}

func TestCreate_GeocodesMissingLocation(t *testing.T) {
	e := newEnv(t, options{})
	admin := token(t, "netrunnerX", "admin")

	rec := e.do(t, http.MethodPost, "/disasters", admin, nycFlood)
	require.Equal(t, http.StatusCreated, rec.Code)
	d := decode[domain.Disaster](t, rec)
	require.NotNil(t, d.Location)
	assert.Equal(t, 40.7128, d.Location.Lat)
	assert.Equal(t, -74.0060, d.Location.Lng)

	rec = e.do(t, http.MethodPost, "/disasters", admin, map[string]any{"title": "Storm", "location_name": "Atlantis"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Nil(t, decode[domain.Disaster](t, rec).Location, "fallback coordinates are not stored")

	rec = e.do(t, http.MethodPost, "/disasters", admin, map[string]any{
		"title":         "Quake",
		"location_name": "Los Angeles, CA",
		"location":      map[string]any{"type": "Point", "coordinates": []float64{-118.0, 34.0}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, -118.0, decode[domain.Disaster](t, rec).Location.Lng, "explicit location wins")
}

func TestCreate_ValidationFailure(t *testing.T) {
	e := newEnv(t, options{})
	admin := token(t, "netrunnerX", "admin")

	rec := e.do(t, http.MethodPost, "/disasters", admin, map[string]any{"location_name": "Manhattan, NYC"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "title")

	req := httptest.NewRequest(http.MethodPost, "/disasters", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+admin)
	raw := httptest.NewRecorder()
	e.srv.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec = e.do(t, http.MethodPost, "/disasters", admin, map[string]any{
		"title":         "Quake",
		"location_name": "Los Angeles, CA",
		"location":      map[string]any{"type": "Point", "coordinates": []float64{5}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 0, e.store.Len())
}

func TestList_FiltersByTagAndReportsSeq(t *testing.T) {
	e := newEnv(t, options{})
	admin := token(t, "reliefAdmin", "admin")
	reader := token(t, "citizen1", "contributor")

	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/disasters", admin, nycFlood).Code)
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/disasters", admin, map[string]any{
		"title": "California Earthquake", "location_name": "Los Angeles, CA", "tags": []string{"earthquake"},
	}).Code)

	rec := e.do(t, http.MethodGet, "/disasters", reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Disaster](t, rec), 2)
	assert.Equal(t, "2", rec.Header().Get(httpadapter.SeqHeader))

	rec = e.do(t, http.MethodGet, "/disasters?tag=urgent", reader, nil)
	list := decode[[]domain.Disaster](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "NYC Flood", list[0].Title)

	rec = e.do(t, http.MethodGet, "/disasters?tag=wildfire", reader, nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestList_ReadPolicy(t *testing.T) {
	closed := newEnv(t, options{})
	assert.Equal(t, http.StatusUnauthorized, closed.do(t, http.MethodGet, "/disasters", "", nil).Code)

	open := newEnv(t, options{openReads: true})
	assert.Equal(t, http.StatusOK, open.do(t, http.MethodGet, "/disasters", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, open.do(t, http.MethodPost, "/disasters", "", nycFlood).Code)
}

func TestLookups_RequireIdentityUnderOpenReads(t *testing.T) {
	e := newEnv(t, options{openReads: true})
	reader := token(t, "citizen1", "contributor")

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/disasters/d-1/social-media", nil},
		{http.MethodGet, "/disasters/d-1/resources", nil},
		{http.MethodGet, "/disasters/d-1/official-updates", nil},
		{http.MethodGet, "/disasters/d-1/briefing", nil},
		{http.MethodPost, "/disasters/d-1/verify-image", map[string]string{"image_url": "https://example.com/flood.png"}},
		{http.MethodPost, "/geocode", map[string]string{"location_text": "Chicago, IL"}},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, e.do(t, tt.method, tt.path, "", tt.body).Code)
			assert.Equal(t, http.StatusOK, e.do(t, tt.method, tt.path, reader, tt.body).Code)
		})
	}

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/disasters", "", nil).Code, "record reads stay open")
}

func TestMutations_RequirePrivilege(t *testing.T) {
	e := newEnv(t, options{})
	admin := token(t, "reliefAdmin", "admin")
	contributor := token(t, "citizen1", "contributor")

	d := decode[domain.Disaster](t, e.do(t, http.MethodPost, "/disasters", admin, nycFlood))
	path := "/disasters/" + d.ID
	before, err := e.store.Get(context.Background(), d.ID)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"create", http.MethodPost, "/disasters", nycFlood},
		{"update", http.MethodPut, path, map[string]any{"title": "Hijacked"}},
		{"delete", http.MethodDelete, path, nil},
	}
	callers := []struct {
		name string
		tok  string
		code int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"contributor", contributor, http.StatusForbidden},
	}
	for _, tt := range tests {
		for _, c := range callers {
			t.Run(tt.name+"/"+c.name, func(t *testing.T) {
				sub := e.hub.Subscribe("test")
				defer e.hub.Unsubscribe(sub)
				seq := e.store.Seq()

				rec := e.do(t, tt.method, tt.path, c.tok, tt.body)
				assert.Equal(t, c.code, rec.Code)

				assert.Equal(t, seq, e.store.Seq())
				assert.Equal(t, 1, e.store.Len())
				got, err := e.store.Get(context.Background(), d.ID)
				require.NoError(t, err)
				assert.Equal(t, before, got)
				select {
				case ev := <-sub.Events():
					t.Fatalf("rejected request emitted %s", ev.Type)
				default:
				}
			})
		}
	}
}

func TestUpdateDeleteLifecycle(t *testing.T) {
	e := newEnv(t, options{})
	admin := token(t, "reliefAdmin", "admin")

	d := decode[domain.Disaster](t, e.do(t, http.MethodPost, "/disasters", admin, nycFlood))
	path := "/disasters/" + d.ID

	rec := e.do(t, http.MethodPut, path, admin, map[string]any{"title": "NYC Flood - Update"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[domain.Disaster](t, rec)
	assert.Equal(t, "NYC Flood - Update", updated.Title)
	assert.Equal(t, d.Description, updated.Description)
	require.Len(t, updated.AuditTrail, 1)
	assert.Equal(t, domain.ActionUpdate, updated.AuditTrail[0].Action)

	rec = e.do(t, http.MethodPut, path, admin, map[string]any{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, path, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NYC Flood - Update", decode[domain.Disaster](t, rec).Title)

	rec = e.do(t, http.MethodDelete, path, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, path, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPut, path, admin, map[string]any{"title": "x"}).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, path, admin, nil).Code)

	rec = e.do(t, http.MethodGet, path+"/audit", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]audit.Entry](t, rec)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.ActionCreate, entries[0].Action)
	assert.Equal(t, domain.ActionUpdate, entries[1].Action)
	assert.Equal(t, domain.ActionDelete, entries[2].Action)
	assert.Equal(t, d.ID, entries[2].EntityID)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/disasters/unknown/audit", admin, nil).Code)
	assert.Equal(t, http.StatusForbidden,
		e.do(t, http.MethodGet, path+"/audit", token(t, "citizen1", "contributor"), nil).Code)
}

// --- lookups ---

func TestLookups(t *testing.T) {
	e := newEnv(t, options{})
	reader := token(t, "citizen1", "contributor")

	rec := e.do(t, http.MethodGet, "/disasters/d-1/social-media", reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.SocialPost](t, rec), 3)

	rec = e.do(t, http.MethodGet, "/disasters/d-1/resources?lat=40.7&lon=-74.0", reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Red Cross Shelter", decode[[]domain.Resource](t, rec)[0].Name)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/disasters/d-1/resources?lat=abc&lon=1", reader, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/disasters/d-1/resources?lat=95&lon=1", reader, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/disasters/d-1/resources?lat=40", reader, nil).Code)

	rec = e.do(t, http.MethodGet, "/disasters/d-1/official-updates", reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Emergency Declaration", decode[[]domain.OfficialUpdate](t, rec)[0].Title)

	rec = e.do(t, http.MethodGet, "/disasters/d-1/briefing", reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[domain.Briefing](t, rec)
	assert.Len(t, b.OfficialUpdates, 3)

	rec = e.do(t, http.MethodPost, "/disasters/d-1/verify-image", reader, map[string]string{"image_url": "https://example.com/flood.png"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[domain.Verification](t, rec).Verified)

	rec = e.do(t, http.MethodPost, "/disasters/d-1/verify-image", reader, map[string]string{"image_url": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/geocode", reader, map[string]string{"location_text": "Chicago, IL"})
	require.Equal(t, http.StatusOK, rec.Code)
	g := decode[domain.GeocodeResult](t, rec)
	assert.Equal(t, 41.8781, g.Lat)
	assert.Equal(t, -87.6298, g.Lng)
	assert.Equal(t, "Chicago, IL", g.Location)
	assert.False(t, g.Fallback)

	rec = e.do(t, http.MethodPost, "/geocode", reader, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, options{rateLimit: 2, openReads: true})

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/disasters", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/disasters", "", nil).Code)
	rec := e.do(t, http.MethodGet, "/disasters", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "", nil).Code, "ops endpoints are not limited")
}

// --- event stream ---

func TestEventStream_DeliversCommittedMutations(t *testing.T) {
	e := newEnv(t, options{})
	ts := httptest.NewServer(e.srv)
	defer ts.Close()

	admin := token(t, "reliefAdmin", "admin")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err, "stream requires authentication")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?access_token="+admin, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	rec := e.do(t, http.MethodPost, "/disasters", admin, nycFlood)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[domain.Disaster](t, rec)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev domain.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, domain.EventDisasterCreated, ev.Type)
	assert.Equal(t, uint64(1), ev.Seq)
	require.NotNil(t, ev.Disaster)
	assert.Equal(t, created, *ev.Disaster)
}
