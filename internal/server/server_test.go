package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventmap/internal/adapter/prefs"
	"eventmap/internal/config"
	"eventmap/internal/domain/event"
	"eventmap/internal/domain/geo"
	"eventmap/internal/domain/identity"
	"eventmap/internal/domain/mapview"
	geosvc "eventmap/internal/service/geo"
	mapviewsvc "eventmap/internal/service/mapview"
	"eventmap/internal/service/notify"
	"eventmap/internal/service/session"
)

var phoenix = geo.GeoPoint{Latitude: 33.4484, Longitude: -112.0740}

type stubStore struct {
	records []event.Record
}

func (s *stubStore) ListEvents(ctx context.Context, bounds *geo.Bounds) ([]event.Record, error) {
	return s.records, nil
}

func (s *stubStore) GetEvent(ctx context.Context, id string) (*event.Record, error) {
	for _, r := range s.records {
		if r.ID == id {
			found := r
			return &found, nil
		}
	}
	return nil, event.ErrNotFound
}

func fptr(f float64) *float64 { return &f }

func rec(id string, metersNorth float64, typ event.Type, date time.Time) event.Record {
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return event.Record{
		ID:        id,
		Title:     "Sale " + id,
		Type:      typ,
		Latitude:  fptr(phoenix.Latitude + metersNorth/111195.0),
		Longitude: fptr(phoenix.Longitude),
		Date:      &d,
		StartTime: "08:00",
	}
}

type testEnv struct {
	router  http.Handler
	manager *mapviewsvc.Manager
	auth    *session.Broadcaster
	prefs   *prefs.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	next := time.Now().AddDate(0, 0, 5)
	store := &stubStore{records: []event.Record{
		rec("a", 0, event.TypeYardSale, next),
		rec("b", 30, event.TypeBakeSale, next),
		rec("c", 2000, event.TypeCraftFair, next),
		rec("old", 100, event.TypeYardSale, time.Now().AddDate(0, -1, 0)),
	}}

	logger := zerolog.Nop()
	geocoder := geosvc.NewStaticGeocoder(map[string]geo.GeoPoint{"85004": phoenix})
	geoService := geosvc.NewGeoSpatialService(store, geocoder, geosvc.GeoSpatialConfig{
		DefaultRadiusKm: geosvc.MilesToKm(10),
		ClusterMode:     geosvc.ClusterTransitive,
	}, logger)

	prefsStore, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { prefsStore.Close() })

	resolver := mapviewsvc.NewResolver(nil, nil, geocoder, mapviewsvc.ResolverConfig{
		GPSTimeout:      time.Second,
		DefaultLocation: geo.GeoPoint{Latitude: 39.8283, Longitude: -98.5795},
	}, logger)

	manager := mapviewsvc.NewManager(store, resolver, nil, notify.NewBusPublisher(nil, logger), mapviewsvc.ManagerConfig{
		SessionTTL:  time.Minute,
		Coordinator: mapviewsvc.DefaultCoordinatorConfig(),
	}, logger)
	manager.SetUserPrefs(func(userID string) mapview.KeyValueStore {
		return prefsStore.Scoped(userID)
	})
	t.Cleanup(func() { manager.Stop(context.Background()) })

	auth := session.NewBroadcaster(nil, "", logger)
	auth.Subscribe(func(change identity.AuthChange) {
		if change.State == identity.AuthSignedOut {
			manager.CloseUser(change.UserID)
		}
	})

	router := NewRouter(config.ServerConfig{CorsOrigins: []string{"*"}}, Dependencies{
		Events:   store,
		Markers:  geoService,
		Geo:      geoService,
		Sessions: manager,
		Auth:     auth,
		Prefs:    prefsStore,
		Unit:     geo.UnitMiles,
		RadiusKm: geosvc.MilesToKm(10),
		Location: time.UTC,
		Now:      time.Now,
		Logger:   logger,
	})

	return &testEnv{router: router, manager: manager, auth: auth, prefs: prefsStore}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func memberIDs(markers []event.Cluster) [][]string {
	var out [][]string
	for _, m := range markers {
		var ids []string
		for _, r := range m.Members {
			ids = append(ids, r.ID)
		}
		out = append(out, ids)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestGetMarkers(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/markers?lat=33.4484&lng=-112.0740", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[struct {
		Unit    geo.Unit `json:"unit"`
		Markers []struct {
			Members  []event.Record `json:"members"`
			Count    int            `json:"count"`
			Distance string         `json:"distance"`
			Eta      string         `json:"eta"`
		} `json:"markers"`
	}](t, w)

	assert.Equal(t, geo.UnitMiles, resp.Unit)
	require.Len(t, resp.Markers, 2)
	assert.Equal(t, 2, resp.Markers[0].Count)
	assert.Contains(t, resp.Markers[0].Distance, "ft")
	assert.Equal(t, 1, resp.Markers[1].Count)
	assert.Equal(t, "c", resp.Markers[1].Members[0].ID)
}

func TestGetMarkers_FiltersAndPast(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/markers?lat=33.4484&lng=-112.0740&type=craft_fair", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Markers []event.Cluster `json:"markers"`
	}](t, w)
	assert.Equal(t, [][]string{{"c"}}, memberIDs(resp.Markers))

	w = env.do(t, http.MethodGet, "/api/v1/markers?lat=33.4484&lng=-112.0740&include_past=true&radius=0.5&unit=km", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[struct {
		Markers []event.Cluster `json:"markers"`
	}](t, w)
	assert.Equal(t, [][]string{{"a", "b"}, {"old"}}, memberIDs(resp.Markers))
}

func TestGetMarkers_BadInput(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/v1/markers",
		"/api/v1/markers?lat=100&lng=0",
		"/api/v1/markers?lat=33&lng=-112&radius=-1",
		"/api/v1/markers?lat=33&lng=-112&radius=NaN",
		"/api/v1/markers?lat=33&lng=-112&radius=Inf",
		"/api/v1/markers?lat=NaN&lng=-112",
		"/api/v1/markers?lat=33&lng=-112&type=concert",
		"/api/v1/markers?lat=33&lng=-112&include_past=maybe",
	} {
		w := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestGetDistance(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/geo/distance?from_lat=33.4484&from_lng=-112.0740&to_lat=33.4484&to_lng=-112.0740", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[map[string]interface{}](t, w)
	assert.Equal(t, 0.0, resp["km"])
	assert.Equal(t, "0 ft", resp["distance"])
	assert.Equal(t, "< 1 min", resp["eta"])
}

func TestGeocode(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/geo/geocode?q=85004", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, phoenix, decode[geo.GeoPoint](t, w))

	w = env.do(t, http.MethodGet, "/api/v1/geo/geocode?q=99999", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/geo/geocode", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEvent(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/events/a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a", decode[event.Record](t, w).ID)

	w = env.do(t, http.MethodGet, "/api/v1/events/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetEvent_Calendar(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/events/a.ics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, w.Header().Get("Content-Disposition"), `a.ics`)
	assert.Contains(t, w.Body.String(), "BEGIN:VCALENDAR")
	assert.Contains(t, w.Body.String(), "UID:a@eventmap")
}

func openSession(t *testing.T, env *testEnv, userID string) mapview.Snapshot {
	t.Helper()

	w := env.do(t, http.MethodPost, "/api/v1/sessions", map[string]interface{}{
		"user_id":    userID,
		"permission": "granted",
		"location":   phoenix,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[mapview.Snapshot](t, w)
}

func TestSessions_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	snap := openSession(t, env, "u1")
	require.NotEmpty(t, snap.SessionID)
	assert.True(t, snap.State.Resolved)
	assert.Equal(t, mapview.SourceGPS, snap.State.Source)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, memberIDs(snap.Markers))

	// the GPS fix is remembered for the user
	stored, ok, err := env.prefs.Get(context.Background(), "u1", mapview.KeyLastLocation)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, phoenix.String(), stored)

	w := env.do(t, http.MethodGet, "/api/v1/sessions/"+snap.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, snap.SessionID, decode[mapview.Snapshot](t, w).SessionID)

	w = env.do(t, http.MethodDelete, "/api/v1/sessions/"+snap.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/sessions/"+snap.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_WithoutLocationFallsBackToDefault(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/sessions", map[string]interface{}{})
	require.Equal(t, http.StatusCreated, w.Code)

	snap := decode[mapview.Snapshot](t, w)
	assert.Equal(t, mapview.SourceDefault, snap.State.Source)
	assert.Empty(t, snap.Markers)
}

func TestSessions_Events(t *testing.T) {
	env := newTestEnv(t)
	snap := openSession(t, env, "u1")
	path := "/api/v1/sessions/" + snap.SessionID + "/events"

	w := env.do(t, http.MethodPost, path, map[string]interface{}{"type": "marker_tapped", "index": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[mapview.Snapshot](t, w)
	assert.Len(t, got.State.MemberList, 2)
	assert.Nil(t, got.State.SelectedEvent)

	w = env.do(t, http.MethodPost, path, map[string]interface{}{"type": "select_event", "event_id": "b"})
	require.Equal(t, http.StatusOK, w.Code)
	got = decode[mapview.Snapshot](t, w)
	require.NotNil(t, got.State.SelectedEvent)
	assert.Equal(t, "b", got.State.SelectedEvent.ID)

	w = env.do(t, http.MethodPost, path, map[string]interface{}{"type": "background_tapped"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[mapview.Snapshot](t, w).State.SelectedEvent)

	w = env.do(t, http.MethodPost, path, map[string]interface{}{"type": "set_type_filter", "event_type": "craft_fair"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [][]string{{"c"}}, memberIDs(decode[mapview.Snapshot](t, w).Markers))

	w = env.do(t, http.MethodPost, path, map[string]interface{}{"type": "set_type_filter"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[mapview.Snapshot](t, w).Markers, 2)

	w = env.do(t, http.MethodPost, path, map[string]interface{}{"type": "set_radius", "radius": 1, "unit": "km"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [][]string{{"a", "b"}}, memberIDs(decode[mapview.Snapshot](t, w).Markers))

	w = env.do(t, http.MethodPost, path, map[string]interface{}{"type": "refresh"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessions_EventErrors(t *testing.T) {
	env := newTestEnv(t)
	snap := openSession(t, env, "u1")
	path := "/api/v1/sessions/" + snap.SessionID + "/events"

	tests := []struct {
		name string
		body map[string]interface{}
		code int
	}{
		{"unknown type", map[string]interface{}{"type": "dance"}, http.StatusBadRequest},
		{"marker without index", map[string]interface{}{"type": "marker_tapped"}, http.StatusBadRequest},
		{"marker out of range", map[string]interface{}{"type": "marker_tapped", "index": 9}, http.StatusNotFound},
		{"select unknown event", map[string]interface{}{"type": "select_event", "event_id": "zzz"}, http.StatusNotFound},
		{"bad radius", map[string]interface{}{"type": "set_radius", "radius": 0}, http.StatusBadRequest},
		{"bad type filter", map[string]interface{}{"type": "set_type_filter", "event_type": "concert"}, http.StatusBadRequest},
		{"missing viewport", map[string]interface{}{"type": "viewport_settled"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, path, tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	w := env.do(t, http.MethodPost, "/api/v1/sessions/nope/events", map[string]interface{}{"type": "refresh"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_ViewportAndSearchThisArea(t *testing.T) {
	env := newTestEnv(t)
	snap := openSession(t, env, "u1")
	path := "/api/v1/sessions/" + snap.SessionID + "/events"

	moved := geo.GeoPoint{Latitude: phoenix.Latitude + 0.05, Longitude: phoenix.Longitude}
	w := env.do(t, http.MethodPost, path, map[string]interface{}{
		"type":     "viewport_settled",
		"viewport": geo.Viewport{Center: moved, LatitudeDelta: 0.1, LongitudeDelta: 0.1},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[mapview.Snapshot](t, w).State.ShowSearchArea)

	w = env.do(t, http.MethodPost, path, map[string]interface{}{"type": "search_this_area"})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[mapview.Snapshot](t, w)
	assert.False(t, got.State.ShowSearchArea)
	require.NotNil(t, got.State.SearchCenter)
	assert.Equal(t, moved, got.State.SearchCenter.Point)

	w = env.do(t, http.MethodPost, path, map[string]interface{}{"type": "recenter"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, phoenix, decode[mapview.Snapshot](t, w).State.SearchCenter.Point)
}

func TestAuthState_SignOutClosesSessions(t *testing.T) {
	env := newTestEnv(t)
	openSession(t, env, "u1")
	openSession(t, env, "u2")
	require.Equal(t, 2, env.manager.Count())

	w := env.do(t, http.MethodPost, "/api/v1/auth/state", identity.AuthChange{UserID: "u1", State: identity.AuthSignedIn})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]interface{}](t, w)
	assert.Equal(t, true, resp["changed"])
	assert.Equal(t, "signed_in", resp["state"])

	w = env.do(t, http.MethodPost, "/api/v1/auth/state", identity.AuthChange{UserID: "u1", State: identity.AuthSignedOut})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.manager.Count())

	w = env.do(t, http.MethodPost, "/api/v1/auth/state", identity.AuthChange{UserID: "u1", State: "asleep"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/auth/state", identity.AuthChange{State: identity.AuthSignedIn})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrefs(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/users/u1/prefs/last_location", map[string]string{"value": " 33.4484, -112.074 "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]string{"last_location": "33.448400,-112.074000"}, decode[map[string]string](t, w))

	w = env.do(t, http.MethodPut, "/api/v1/users/u1/prefs/postal_code", map[string]string{"value": "85004"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/users/u1/prefs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{
		"last_location": "33.448400,-112.074000",
		"postal_code":   "85004",
	}, decode[map[string]string](t, w))

	w = env.do(t, http.MethodPut, "/api/v1/users/u1/prefs/last_location", map[string]string{"value": "north"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/v1/users/u1/prefs/theme", map[string]string{"value": "dark"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/users/u1/prefs/postal_code", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/users/u1/prefs", nil)
	assert.Equal(t, map[string]string{"last_location": "33.448400,-112.074000"}, decode[map[string]string](t, w))

	w = env.do(t, http.MethodDelete, "/api/v1/users/u1/prefs/theme", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrefs_UsedWhenSessionHasNoFix(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/users/u1/prefs/postal_code", map[string]string{"value": "85004"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/sessions", map[string]interface{}{"user_id": "u1", "permission": "denied"})
	require.Equal(t, http.StatusCreated, w.Code)

	snap := decode[mapview.Snapshot](t, w)
	assert.Equal(t, mapview.SourcePostalCode, snap.State.Source)
	assert.Equal(t, phoenix, *snap.State.UserLocation)
}

func TestSessionWebSocket(t *testing.T) {
	env := newTestEnv(t)
	snap := openSession(t, env, "u1")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + snap.SessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial mapview.Snapshot
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, snap.SessionID, initial.SessionID)
	assert.Equal(t, snap.Version, initial.Version)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "marker_tapped", "index": 1}))

	var next mapview.Snapshot
	require.NoError(t, conn.ReadJSON(&next))
	assert.Greater(t, next.Version, initial.Version)
	require.NotNil(t, next.State.SelectedEvent)
	assert.Equal(t, "c", next.State.SelectedEvent.ID)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "dance"}))

	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, float64(http.StatusBadRequest), frame["status"])
}

func TestSessionWebSocket_UnknownSession(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/ws/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
