package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/geometry"
	"github.com/banshee-data/footfall.report/internal/hub"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *hub.Coordinator) {
	t.Helper()
	m := counter.NewManager(counter.ManagerConfig{
		Space:           geometry.Space{Width: 1300, Height: 720},
		HistoryCapacity: 100,
		IdleTimeout:     30 * time.Second,
		Cameras:         []string{"camera1", "camera2"},
	})
	co := hub.NewCoordinator(m, hub.NewHub(16), nil)
	return NewServer(co, nil), co
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestListCameras(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.ServeMux(), http.MethodGet, "/api/cameras", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Cameras      []string       `json:"cameras"`
		ActiveCamera string         `json:"active_camera"`
		Space        geometry.Space `json:"space"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"camera1", "camera2"}, resp.Cameras)
	require.Equal(t, "camera1", resp.ActiveCamera)
	require.Equal(t, 1300.0, resp.Space.Width)
}

func TestSetActiveCamera(t *testing.T) {
	s, co := newTestServer(t)
	mux := s.ServeMux()

	rec := doJSON(t, mux, http.MethodPost, "/api/camera", map[string]string{"camera_id": "camera2"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "camera2", co.Manager().ActiveCamera())

	rec = doJSON(t, mux, http.MethodPost, "/api/camera", map[string]string{"camera_id": "ghost"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/camera", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestZoneLifecycleOverHTTP(t *testing.T) {
	s, co := newTestServer(t)
	mux := s.ServeMux()

	rec := doJSON(t, mux, http.MethodPost, "/api/zones", map[string]interface{}{
		"camera_id":    "camera1",
		"zone":         "door",
		"top_left":     []float64{0, 0},
		"bottom_right": []float64{100, 100},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := co.IngestFrame(counter.Frame{
		CameraID:  "camera1",
		UnixNanos: 1,
		Tracks:    []counter.TrackObs{{TrackID: "5", X: 50, Y: 50}},
	})
	require.NoError(t, err)

	rec = doJSON(t, mux, http.MethodGet, "/api/zones?camera=camera1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		CameraID string                          `json:"camera_id"`
		Zones    map[string]counter.ZoneSnapshot `json:"zones"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Zones["door"].InCount)
	require.Equal(t, []string{"5"}, resp.Zones["door"].InsideIDs)

	rec = doJSON(t, mux, http.MethodPost, "/api/zones/reset", map[string]string{
		"camera_id": "camera1", "zone": "door",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/zones/delete", map[string]string{
		"camera_id": "camera1", "zone": "door",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/zones/delete", map[string]string{
		"camera_id": "camera1", "zone": "door",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestZoneValidationOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.ServeMux()

	// Out-of-bounds geometry is a 400.
	rec := doJSON(t, mux, http.MethodPost, "/api/zones", map[string]interface{}{
		"camera_id":    "camera1",
		"zone":         "door",
		"top_left":     []float64{0, 0},
		"bottom_right": []float64{5000, 100},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "error")

	// Malformed body is a 400.
	req := httptest.NewRequest(http.MethodPost, "/api/zones", strings.NewReader("{nope"))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLineLifecycleOverHTTP(t *testing.T) {
	s, co := newTestServer(t)
	mux := s.ServeMux()

	rec := doJSON(t, mux, http.MethodPost, "/api/lines", map[string]interface{}{
		"camera_id": "camera1",
		"line":      "gate",
		"start":     []float64{0, 100},
		"end":       []float64{200, 100},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := co.IngestFrame(counter.Frame{
		CameraID: "camera1", UnixNanos: 1,
		Tracks: []counter.TrackObs{{TrackID: "7", X: 50, Y: 50}},
	})
	require.NoError(t, err)
	_, err = co.IngestFrame(counter.Frame{
		CameraID: "camera1", UnixNanos: 2,
		Tracks: []counter.TrackObs{{TrackID: "7", X: 50, Y: 150}},
	})
	require.NoError(t, err)

	rec = doJSON(t, mux, http.MethodGet, "/api/lines?camera=camera1", nil)
	var resp struct {
		Lines map[string]counter.LineSnapshot `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Lines["gate"].InCount)

	rec = doJSON(t, mux, http.MethodPost, "/api/lines/reset", map[string]string{
		"camera_id": "camera1", "line": "gate",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/lines?camera=camera1", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Lines["gate"].InCount)
	require.Empty(t, resp.Lines["gate"].History)
}

func TestListHistoryCursor(t *testing.T) {
	s, co := newTestServer(t)
	mux := s.ServeMux()
	require.NoError(t, co.DefineZone("camera1", "door", geometry.Rect{
		TopLeft:     geometry.Point{X: 0, Y: 0},
		BottomRight: geometry.Point{X: 100, Y: 100},
	}))

	for i := 0; i < 2; i++ {
		co.IngestFrame(counter.Frame{
			CameraID: "camera1", UnixNanos: int64(i*2 + 1),
			Tracks: []counter.TrackObs{{TrackID: "5", X: 50, Y: 50}},
		})
		co.IngestFrame(counter.Frame{
			CameraID: "camera1", UnixNanos: int64(i*2 + 2),
			Tracks: []counter.TrackObs{{TrackID: "5", X: 500, Y: 500}},
		})
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/history?camera=camera1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		History []counter.Event `json:"history"`
		Next    uint64          `json:"next"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.History, 4)
	require.Equal(t, uint64(4), resp.Next)

	rec = doJSON(t, mux, http.MethodGet, "/api/history?camera=camera1&since=2", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.History, 2)

	rec = doJSON(t, mux, http.MethodGet, "/api/history?camera=camera1&since=junk", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/history?camera=ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEventsDisabled(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.ServeMux(), http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

type stubLister struct{ events []counter.Event }

func (l *stubLister) ListByCamera(cameraID string, sinceNanos int64, limit int) ([]counter.Event, error) {
	return l.events, nil
}

func TestListEvents(t *testing.T) {
	s, co := newTestServer(t)
	s.events = &stubLister{events: []counter.Event{
		{CameraID: "camera1", Kind: counter.TargetZone, Name: "door", TrackID: "5", Action: counter.ActionEnter, UnixNanos: 100, Seq: 1},
	}}
	_ = co

	rec := doJSON(t, s.ServeMux(), http.MethodGet, "/api/events?camera=camera1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Events []counter.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	require.Equal(t, "door", resp.Events[0].Name)

	rec = doJSON(t, s.ServeMux(), http.MethodGet, "/api/events?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// noFlushWriter hides the recorder's Flush method, the shape of a middleware
// wrapper that forwards only http.ResponseWriter.
type noFlushWriter struct{ http.ResponseWriter }

func TestStreamRequiresFlusher(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)

	require.NotPanics(t, func() {
		s.ServeMux().ServeHTTP(&noFlushWriter{rec}, req)
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStreamDeliversInitialDataAndBroadcasts(t *testing.T) {
	s, co := newTestServer(t)
	srv := httptest.NewServer(s.ServeMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	readEvent := func() hub.Notification {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				var n hub.Notification
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &n))
				return n
			}
		}
	}

	n := readEvent()
	require.Equal(t, hub.KindInitialData, n.Kind)
	require.Equal(t, "camera1", n.ActiveCamera)

	require.NoError(t, co.DefineZone("camera1", "door", geometry.Rect{
		TopLeft:     geometry.Point{X: 0, Y: 0},
		BottomRight: geometry.Point{X: 100, Y: 100},
	}))
	n = readEvent()
	require.Equal(t, hub.KindZoneUpdated, n.Kind)
	require.Equal(t, "door", n.Zone)
	require.NotNil(t, n.Snapshot)
}
