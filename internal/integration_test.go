package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"truckcheck-backend/internal/api"
	"truckcheck-backend/internal/checkrun"
	"truckcheck-backend/internal/db"
	"truckcheck-backend/internal/model"
	"truckcheck-backend/internal/realtime"
	"truckcheck-backend/internal/store"
	"truckcheck-backend/internal/tenant"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	// 1. Private in-memory SQLite database per test.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(testDB))
	require.NoError(t, db.SeedStation(testDB, "S1"))

	appStore := store.NewGormStore(testDB)
	ctx := context.Background()
	require.NoError(t, appStore.UpsertAppliances(ctx, []model.Appliance{{StationID: "S1", ID: "truck-1", Name: "Pumper 1"}}))

	// 2. Wire the application the way the daemon does.
	quiet := log.New(io.Discard, "", 0)
	bus := realtime.NewBus(32, quiet)
	resolver := tenant.NewResolver(nil, "S1")
	coord := checkrun.New(appStore, bus)
	responses := cache.New(time.Minute, time.Minute)
	handler := api.NewHandler(coord, appStore, nil, nil, time.Second, 0, responses)
	router := api.NewRouter(api.RouterConfig{
		Handler:   handler,
		Resolver:  resolver,
		Socket:    realtime.NewSocketHandler(bus, resolver, appStore, time.Second, quiet),
		RateLimit: 1000,
		RateBurst: 1000,
		Cache:     responses,
		CacheTTL:  time.Minute,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func joinRoom(t *testing.T, srv *httptest.Server, stationID string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	data, _ := json.Marshal(realtime.JoinStationRequest{StationID: stationID, BrigadeID: "B1"})
	require.NoError(t, ws.WriteJSON(realtime.Frame{Event: realtime.FrameJoinStation, Data: data}))

	var f realtime.Frame
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, ws.ReadJSON(&f))
	require.Equal(t, realtime.FrameJoinedStation, f.Event)
	return ws
}

func nextUpdate(t *testing.T, ws *websocket.Conn) realtime.Event {
	t.Helper()
	var f realtime.Frame
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, ws.ReadJSON(&f))
	require.Equal(t, realtime.FrameTruckCheckUpdate, f.Event)
	var ev realtime.Event
	require.NoError(t, json.Unmarshal(f.Data, &ev))
	return ev
}

// TestCollaborativeCheck drives two contributors through one inspection over
// HTTP while a third client watches the station room.
func TestCollaborativeCheck(t *testing.T) {
	srv := newServer(t)
	watcher := joinRoom(t, srv, "S1")

	code, first := call(t, srv, "POST", "/api/runs", map[string]any{"applianceId": "truck-1", "completedBy": "u1"})
	require.Equal(t, http.StatusCreated, code)
	runID := first["id"].(string)
	assert.Equal(t, "in-progress", first["status"])
	assert.Equal(t, []any{"u1"}, first["contributors"])
	assert.Equal(t, false, first["joined"])

	code, second := call(t, srv, "POST", "/api/runs", map[string]any{"applianceId": "truck-1", "completedBy": "u2"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, runID, second["id"])
	assert.Equal(t, []any{"u1", "u2"}, second["contributors"])
	assert.Equal(t, true, second["joined"])

	code, _ = call(t, srv, "POST", "/api/results", map[string]any{"runId": runID, "itemId": "i1", "status": "issue"})
	require.Equal(t, http.StatusCreated, code)

	code, done := call(t, srv, "PUT", "/api/runs/"+runID+"/complete", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", done["status"])
	assert.Equal(t, true, done["hasIssues"])

	want := []realtime.EventType{
		realtime.EventCheckStarted,
		realtime.EventContributorJoined,
		realtime.EventResultCreated,
		realtime.EventCheckCompleted,
	}
	for _, typ := range want {
		ev := nextUpdate(t, watcher)
		assert.Equal(t, typ, ev.Type)
		assert.Equal(t, runID, ev.RunID)
	}

	code, fetched := call(t, srv, "GET", "/api/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, fetched["results"], 1)
}

func TestConcurrentStartCreatesOneRun(t *testing.T) {
	srv := newServer(t)

	const callers = 8
	var wg sync.WaitGroup
	codes := make(chan int, callers)
	ids := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"applianceId":"truck-1","completedBy":"u%d"}`, i)
			resp, err := srv.Client().Post(srv.URL+"/api/runs", "application/json", strings.NewReader(body))
			if err != nil {
				codes <- 0
				return
			}
			defer resp.Body.Close()
			var run struct {
				ID string `json:"id"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&run)
			codes <- resp.StatusCode
			ids <- run.ID
		}(i)
	}
	wg.Wait()
	close(codes)
	close(ids)

	created := 0
	for code := range codes {
		if code == http.StatusCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)

	code, run := call(t, srv, "GET", "/api/runs/"+firstKey(seen), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, run["contributors"], callers)
}

func firstKey(m map[string]bool) string {
	for k := range m {
		return k
	}
	return ""
}
