package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"truckcheck-backend/internal/checkrun"
	"truckcheck-backend/internal/model"
	"truckcheck-backend/internal/photo"
	"truckcheck-backend/internal/realtime"
	"truckcheck-backend/internal/store"
	"truckcheck-backend/internal/tenant"
)

type fixedTokens map[string]string

func (f fixedTokens) ResolveStationFromToken(token string) (string, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return "", tenant.ErrInvalidToken
}

type testEnv struct {
	router http.Handler
	store  store.Store
	bus    *realtime.Bus
}

func setup(t *testing.T, photos photo.Uploader, push *webpush.Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"S1", "S2"} {
		require.NoError(t, s.UpsertStation(ctx, &model.Station{ID: id, Name: id}))
		require.NoError(t, s.UpsertAppliances(ctx, []model.Appliance{{StationID: id, ID: "truck-1", Name: "Pumper"}}))
	}

	bus := realtime.NewBus(16, log.New(io.Discard, "", 0))
	coord := checkrun.New(s, bus)
	responses := cache.New(time.Minute, time.Minute)
	resolver := tenant.NewResolver(fixedTokens{"kiosk-S2": "S2"}, "S1")

	h := NewHandler(coord, s, push, photos, time.Second, 1<<20, responses)
	r := NewRouter(RouterConfig{
		Handler:   h,
		Resolver:  resolver,
		RateLimit: 1000,
		RateBurst: 1000,
		Cache:     responses,
		CacheTTL:  time.Minute,
	})
	return &testEnv{router: r, store: s, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type runBody struct {
	ID               string              `json:"id"`
	StationID        string              `json:"stationId"`
	Status           string              `json:"status"`
	Contributors     []string            `json:"contributors"`
	HasIssues        bool                `json:"hasIssues"`
	Joined           bool                `json:"joined"`
	AlreadyCompleted bool                `json:"alreadyCompleted"`
	Results          []model.CheckResult `json:"results"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRuns_StartJoinComplete(t *testing.T) {
	env := setup(t, nil, nil)

	w := env.do(t, "POST", "/api/runs", gin.H{"applianceId": "truck-1", "completedBy": "u1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[runBody](t, w)
	assert.False(t, first.Joined)
	assert.Equal(t, "in-progress", first.Status)
	assert.Equal(t, []string{"u1"}, first.Contributors)

	w = env.do(t, "POST", "/api/runs", gin.H{"applianceId": "truck-1", "completedBy": "u2"})
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[runBody](t, w)
	assert.True(t, second.Joined)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"u1", "u2"}, second.Contributors)

	w = env.do(t, "POST", "/api/results", gin.H{"runId": first.ID, "itemId": "i1", "status": "issue", "completedBy": "u1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, "PUT", "/api/runs/"+first.ID+"/complete", gin.H{"additionalComments": "left mirror cracked"})
	require.Equal(t, http.StatusOK, w.Code)
	done := decode[runBody](t, w)
	assert.Equal(t, "completed", done.Status)
	assert.True(t, done.HasIssues)
	assert.False(t, done.AlreadyCompleted)

	w = env.do(t, "PUT", "/api/runs/"+first.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[runBody](t, w).AlreadyCompleted)

	w = env.do(t, "GET", "/api/runs/"+first.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[runBody](t, w)
	assert.Len(t, got.Results, 1)

	w = env.do(t, "POST", "/api/results", gin.H{"runId": first.ID, "itemId": "i2", "status": "done"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRuns_Errors(t *testing.T) {
	env := setup(t, nil, nil)

	w := env.do(t, "POST", "/api/runs", gin.H{"completedBy": "u1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/runs", gin.H{"applianceId": "truck-9", "completedBy": "u1"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", "/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)

	w = env.do(t, "PUT", "/api/runs/nope/complete", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", "/api/runs?startDate=2026-03-02&endDate=2026-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/api/runs?withIssues=perhaps", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuns_TenantIsolation(t *testing.T) {
	env := setup(t, nil, nil)

	w := env.do(t, "POST", "/api/runs", gin.H{"applianceId": "truck-1", "completedBy": "u1"}, tenant.HeaderStationID, "S1")
	require.Equal(t, http.StatusCreated, w.Code)
	s1 := decode[runBody](t, w)

	// kiosk token for S2 overrides the header
	w = env.do(t, "POST", "/api/runs", gin.H{"applianceId": "truck-1", "completedBy": "u2"},
		tenant.HeaderStationID, "S1", tenant.HeaderKioskToken, "kiosk-S2")
	require.Equal(t, http.StatusCreated, w.Code)
	s2 := decode[runBody](t, w)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, "S2", s2.StationID)

	w = env.do(t, "GET", "/api/runs/"+s1.ID+"?stationId=S2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", "/api/runs", nil, tenant.HeaderKioskToken, "forged")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRuns_ListFilters(t *testing.T) {
	env := setup(t, nil, nil)

	w := env.do(t, "POST", "/api/runs", gin.H{"applianceId": "truck-1", "completedBy": "u1"})
	run := decode[runBody](t, w)
	env.do(t, "POST", "/api/results", gin.H{"runId": run.ID, "itemId": "i1", "status": "done"})
	env.do(t, "PUT", "/api/runs/"+run.ID+"/complete", nil)

	w = env.do(t, "GET", "/api/runs?applianceId=truck-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode[[]runBody](t, w)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Results, 1)

	w = env.do(t, "GET", "/api/runs?withIssues=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestResults_UpdateAndDelete(t *testing.T) {
	env := setup(t, nil, nil)
	run := decode[runBody](t, env.do(t, "POST", "/api/runs", gin.H{"applianceId": "truck-1", "completedBy": "u1"}))

	w := env.do(t, "POST", "/api/results", gin.H{"runId": run.ID, "itemId": "i1", "status": "done"})
	require.Equal(t, http.StatusCreated, w.Code)
	result := decode[model.CheckResult](t, w)

	w = env.do(t, "POST", "/api/results", gin.H{"runId": run.ID, "itemId": "i1", "status": "issue"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, result.ID, decode[model.CheckResult](t, w).ID)

	w = env.do(t, "PUT", "/api/results/"+result.ID, gin.H{"status": "skipped", "comment": "not fitted"})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[model.CheckResult](t, w)
	assert.Equal(t, model.ResultStatusSkipped, updated.Status)
	assert.Equal(t, "not fitted", updated.Comment)

	w = env.do(t, "PUT", "/api/results/"+result.ID, gin.H{"status": "broken"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "DELETE", "/api/results/"+result.ID+"?stationId=S2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "DELETE", "/api/results/"+result.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, "DELETE", "/api/results/"+result.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "PUT", "/api/results/"+result.ID, gin.H{"status": "done"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAppliancesAndChecklist(t *testing.T) {
	env := setup(t, nil, nil)

	w := env.do(t, "GET", "/api/appliances", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Appliance](t, w), 1)

	w = env.do(t, "POST", "/api/appliances", gin.H{"id": "truck-2", "name": "Tanker"})
	require.Equal(t, http.StatusCreated, w.Code)

	// the cached list was flushed by the write
	w = env.do(t, "GET", "/api/appliances", nil)
	assert.Len(t, decode[[]model.Appliance](t, w), 2)

	w = env.do(t, "POST", "/api/appliances", gin.H{"id": "truck-3"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/appliances?stationId=ghost", gin.H{"id": "truck-3", "name": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", "/api/appliances/truck-1/checklist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "PUT", "/api/appliances/truck-1/checklist", gin.H{"items": []gin.H{
		{"id": "lights", "name": "Lights", "order": 2},
		{"id": "fuel", "name": "Fuel", "order": 1},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, "GET", "/api/appliances/truck-1/checklist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tpl := decode[model.ChecklistTemplate](t, w)
	require.Len(t, tpl.Items, 2)
	assert.Equal(t, "fuel", tpl.Items[0].ID)

	w = env.do(t, "PUT", "/api/appliances/truck-9/checklist", gin.H{"items": []gin.H{{"name": "Fuel"}}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "PUT", "/api/appliances/truck-1/checklist", gin.H{"items": []gin.H{{"id": "x"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptions(t *testing.T) {
	env := setup(t, nil, nil)

	w := env.do(t, "PUT", "/api/subscriptions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())

	w = env.do(t, "PUT", "/api/subscriptions", gin.H{"endpoint": "https://push.example/abc", "p256dh": "k", "auth": "a"}, tenant.HeaderStationID, "S2")
	assert.Equal(t, http.StatusCreated, w.Code)

	subs, err := env.store.SubscriptionsForStation(context.Background(), "S2")
	require.NoError(t, err)
	require.Len(t, subs, 1)

	// another station can neither see nor remove it
	w = env.do(t, "GET", "/api/subscriptions?endpoint=https://push.example/abc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, "DELETE", "/api/subscriptions", gin.H{"endpoint": "https://push.example/abc"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, "GET", "/api/subscriptions?endpoint=https://push.example/abc", nil, tenant.HeaderStationID, "S2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"stationId":"S2"}`, w.Body.String())

	w = env.do(t, "DELETE", "/api/subscriptions", gin.H{"endpoint": "https://push.example/abc"}, tenant.HeaderStationID, "S2")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, "GET", "/api/subscriptions?endpoint=https://push.example/abc", nil, tenant.HeaderStationID, "S2")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVAPIDPublicKey(t *testing.T) {
	w := setup(t, nil, nil).do(t, "GET", "/api/vapid_public_key", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = setup(t, nil, &webpush.Options{VAPIDPublicKey: "pub"}).do(t, "GET", "/api/vapid_public_key", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"pub"}`, w.Body.String())
}

func multipartPhoto(t *testing.T, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mpw := multipart.NewWriter(&body)
	part, err := mpw.CreateFormFile("photo", "p.png")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mpw.Close())
	return &body, mpw.FormDataContentType()
}

func TestUploadPhoto(t *testing.T) {
	w := setup(t, nil, nil).do(t, "POST", "/api/photos", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	storage, err := photo.NewLocalStorage(t.TempDir(), "/photos", 1<<20)
	require.NoError(t, err)
	env := setup(t, storage, nil)

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	body, ct := multipartPhoto(t, img.Bytes())
	req := httptest.NewRequest("POST", "/api/photos", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"/photos/S1/`)

	body, ct = multipartPhoto(t, []byte("not an image"))
	req = httptest.NewRequest("POST", "/api/photos", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHealthz(t *testing.T) {
	w := setup(t, nil, nil).do(t, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
