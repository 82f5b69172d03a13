// Package hub fans occupancy notifications out to subscribers and wraps the
// counter manager so every successful mutation is broadcast exactly once.
package hub

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/geometry"
	"github.com/banshee-data/footfall.report/internal/monitoring"
)

// Notification kinds, mirrored on the wire for both the SSE and websocket
// transports.
const (
	KindZoneUpdated    = "zone_updated"
	KindLineUpdated    = "line_updated"
	KindCountReset     = "count_reset"
	KindLineCountReset = "line_count_reset"
	KindZoneDeleted    = "zone_deleted"
	KindLineDeleted    = "line_deleted"
	KindCameraChanged  = "camera_changed"
	KindUpdateCounts   = "update_counts"
	KindInitialData    = "initial_data"
	KindCurrentData    = "current_data"
	KindError          = "error"
)

// Notification is one message to connected clients. Which fields are set
// depends on Kind; Snapshot rides along on every state-bearing kind so a
// client never has to issue a follow-up fetch.
type Notification struct {
	Kind         string                  `json:"event"`
	Camera       string                  `json:"camera_id,omitempty"`
	ActiveCamera string                  `json:"active_camera,omitempty"`
	Cameras      []string                `json:"cameras,omitempty"`
	Zone         string                  `json:"zone,omitempty"`
	Line         string                  `json:"line,omitempty"`
	Snapshot     *counter.CameraSnapshot `json:"data,omitempty"`
	Space        *geometry.Space         `json:"space,omitempty"`
	Message      string                  `json:"message,omitempty"`
}

type subscriber struct {
	ch chan Notification
	// camera filters delivery to one camera's notifications; empty receives
	// everything. Camera-less kinds (camera_changed, error) always deliver.
	camera string
}

// Hub is the subscriber registry. Publish never blocks: a subscriber that
// cannot keep up has notifications dropped and counted rather than stalling
// the detection path.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	buffer      int
	dropped     uint64

	logf func(format string, v ...interface{})
}

// NewHub creates a hub whose subscriber channels buffer up to buffer
// notifications each.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subscribers: make(map[string]*subscriber),
		buffer:      buffer,
		logf:        monitoring.Prefixed("hub"),
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new subscriber and returns its ID and receive
// channel. camera narrows delivery to one camera; pass "" for all cameras.
func (h *Hub) Subscribe(camera string) (string, <-chan Notification) {
	id := randomID()
	sub := &subscriber{ch: make(chan Notification, h.buffer), camera: camera}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		close(sub.ch)
		delete(h.subscribers, id)
	}
}

// SetCamera repoints an existing subscriber's camera filter, used when a
// client follows the active-camera selection.
func (h *Hub) SetCamera(id, camera string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		sub.camera = camera
	}
}

// Publish delivers n to every matching subscriber without blocking. Full
// subscribers lose the notification; the next update_counts tick carries a
// complete snapshot anyway.
func (h *Hub) Publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subscribers {
		if sub.camera != "" && n.Camera != "" && sub.camera != n.Camera {
			continue
		}
		select {
		case sub.ch <- n:
		default:
			h.dropped++
			if h.dropped%100 == 1 {
				h.logf("slow subscriber, %d notifications dropped so far", h.dropped)
			}
		}
	}
}

// NotifyOne delivers n to a single subscriber, used for requester-only
// replies such as initial_data and error.
func (h *Hub) NotifyOne(id string, n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	select {
	case sub.ch <- n:
	default:
		h.dropped++
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Dropped returns the number of notifications discarded on full channels.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, id)
	}
}
