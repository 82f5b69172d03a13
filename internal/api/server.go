// Package api serves the HTTP surface: REST endpoints for state and
// configuration, an SSE stream, and the websocket command channel.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/geometry"
	"github.com/banshee-data/footfall.report/internal/hub"
)

// ANSI escape codes for request log colouring
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// EventLister reads archived crossing events, satisfied by the sqlite store.
type EventLister interface {
	ListByCamera(cameraID string, sinceNanos int64, limit int) ([]counter.Event, error)
}

type Server struct {
	co     *hub.Coordinator
	events EventLister // nil when the archive is disabled
}

func NewServer(co *hub.Coordinator, events EventLister) *Server {
	return &Server{
		co:     co,
		events: events,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cameras", s.listCameras)
	mux.HandleFunc("/api/camera", s.setActiveCamera)
	mux.HandleFunc("/api/zones", s.handleZones)
	mux.HandleFunc("/api/zones/reset", s.resetZone)
	mux.HandleFunc("/api/zones/delete", s.deleteZone)
	mux.HandleFunc("/api/lines", s.handleLines)
	mux.HandleFunc("/api/lines/reset", s.resetLine)
	mux.HandleFunc("/api/lines/delete", s.deleteLine)
	mux.HandleFunc("/api/history", s.listHistory)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/stream", s.streamHandler)
	mux.HandleFunc("/ws", s.websocketHandler)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeOpError maps the counter error taxonomy onto HTTP statuses.
func (s *Server) writeOpError(w http.ResponseWriter, err error) {
	var verr *counter.ValidationError
	var unknown *counter.UnknownEntityError
	switch {
	case errors.As(err, &verr):
		s.writeJSONError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &unknown):
		s.writeJSONError(w, http.StatusNotFound, unknown.Error())
	default:
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// cameraParam resolves the camera query parameter, defaulting to the active
// camera.
func (s *Server) cameraParam(r *http.Request) string {
	if camera := r.URL.Query().Get("camera"); camera != "" {
		return camera
	}
	return s.co.Manager().ActiveCamera()
}

func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	space := s.co.Manager().Space()
	s.writeJSON(w, map[string]interface{}{
		"cameras":       s.co.Manager().CameraIDs(),
		"active_camera": s.co.Manager().ActiveCamera(),
		"space":         space,
	})
}

func (s *Server) setActiveCamera(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req struct {
		CameraID string `json:"camera_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := s.co.SetActiveCamera(req.CameraID); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"active_camera": req.CameraID})
}

type zoneRequest struct {
	CameraID    string         `json:"camera_id"`
	Zone        string         `json:"zone"`
	TopLeft     geometry.Point `json:"top_left"`
	BottomRight geometry.Point `json:"bottom_right"`
}

type lineRequest struct {
	CameraID string         `json:"camera_id"`
	Line     string         `json:"line"`
	Start    geometry.Point `json:"start"`
	End      geometry.Point `json:"end"`
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap, err := s.co.Manager().Snapshot(s.cameraParam(r), time.Now().UnixNano())
		if err != nil {
			s.writeOpError(w, err)
			return
		}
		s.writeJSON(w, map[string]interface{}{"camera_id": snap.CameraID, "zones": snap.Zones})
	case http.MethodPost:
		var req zoneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		rect := geometry.Rect{TopLeft: req.TopLeft, BottomRight: req.BottomRight}
		if err := s.co.DefineZone(req.CameraID, req.Zone, rect); err != nil {
			s.writeOpError(w, err)
			return
		}
		s.writeJSON(w, map[string]string{"status": "ok"})
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap, err := s.co.Manager().Snapshot(s.cameraParam(r), time.Now().UnixNano())
		if err != nil {
			s.writeOpError(w, err)
			return
		}
		s.writeJSON(w, map[string]interface{}{"camera_id": snap.CameraID, "lines": snap.Lines})
	case http.MethodPost:
		var req lineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		seg := geometry.Segment{Start: req.Start, End: req.End}
		if err := s.co.DefineLine(req.CameraID, req.Line, seg); err != nil {
			s.writeOpError(w, err)
			return
		}
		s.writeJSON(w, map[string]string{"status": "ok"})
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// targetOp handles the shared shape of reset and delete requests.
func (s *Server) targetOp(w http.ResponseWriter, r *http.Request, op func(cameraID, name string) error, field string) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := op(req["camera_id"], req[field]); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) resetZone(w http.ResponseWriter, r *http.Request) {
	s.targetOp(w, r, s.co.ResetZone, "zone")
}

func (s *Server) deleteZone(w http.ResponseWriter, r *http.Request) {
	s.targetOp(w, r, s.co.DeleteZone, "zone")
}

func (s *Server) resetLine(w http.ResponseWriter, r *http.Request) {
	s.targetOp(w, r, s.co.ResetLine, "line")
}

func (s *Server) deleteLine(w http.ResponseWriter, r *http.Request) {
	s.targetOp(w, r, s.co.DeleteLine, "line")
}

// listHistory serves the in-memory combined history. The since parameter is a
// sequence cursor from a previous response; clients poll with the last seq
// they saw.
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'since' parameter")
			return
		}
		since = parsed
	}
	camera := s.cameraParam(r)
	entries, err := s.co.Manager().CombinedHistory(camera, since)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	next := since
	for _, e := range entries {
		if e.Seq > next {
			next = e.Seq
		}
	}
	s.writeJSON(w, map[string]interface{}{
		"camera_id": camera,
		"history":   entries,
		"next":      next,
	})
}

// listEvents serves the persistent archive. since is unix nanoseconds.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.events == nil {
		s.writeJSONError(w, http.StatusNotFound, "event archive disabled")
		return
	}
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'since' parameter")
			return
		}
		since = parsed
	}
	limit := 1000
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	camera := s.cameraParam(r)
	events, err := s.events.ListByCamera(camera, since, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	s.writeJSON(w, map[string]interface{}{"camera_id": camera, "events": events})
}

// streamHandler pushes hub notifications over SSE. The optional camera query
// parameter narrows the stream to one camera.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.co.Hub().Subscribe(r.URL.Query().Get("camera"))
	defer s.co.Hub().Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	s.co.SendInitialData(id)

	for {
		select {
		case n, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				log.Printf("failed to marshal notification: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
