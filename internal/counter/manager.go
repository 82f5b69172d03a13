package counter

import (
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/footfall.report/internal/geometry"
)

// ManagerConfig holds the knobs the manager hands to each camera.
type ManagerConfig struct {
	Space           geometry.Space
	HistoryCapacity int
	IdleTimeout     time.Duration // track crossing-state eviction period
	Cameras         []string      // cameras registered at startup
}

// Manager owns the per-camera state registry and the single process-wide
// active-camera selection. The manager lock guards only the registry and the
// active selection; all zone/line mutation happens under each camera's own
// lock, so independent camera streams never contend.
type Manager struct {
	space       geometry.Space
	historyCap  int
	idleTimeout time.Duration

	mu      sync.RWMutex
	cameras map[string]*CameraState
	active  string
}

// NewManager builds a manager with the given configuration. The first
// registered camera becomes the active one.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		space:       cfg.Space,
		historyCap:  cfg.HistoryCapacity,
		idleTimeout: cfg.IdleTimeout,
		cameras:     make(map[string]*CameraState),
	}
	for _, id := range cfg.Cameras {
		m.ensureCamera(id)
	}
	return m
}

// Space returns the reference coordinate space.
func (m *Manager) Space() geometry.Space { return m.space }

// ensureCamera returns the camera state for id, creating it if needed.
func (m *Manager) ensureCamera(id string) *CameraState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cameras[id]; ok {
		return c
	}
	c := newCameraState(id, m.space, m.historyCap)
	m.cameras[id] = c
	if m.active == "" {
		m.active = id
	}
	return c
}

// camera returns the camera state for id, or an UnknownEntityError.
func (m *Manager) camera(id string) (*CameraState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cameras[id]
	if !ok {
		return nil, &UnknownEntityError{Kind: "camera", Name: id}
	}
	return c, nil
}

// CameraIDs returns all registered camera ids, sorted.
func (m *Manager) CameraIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.cameras))
	for id := range m.cameras {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveCamera returns the current process-wide active camera id.
func (m *Manager) ActiveCamera() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// SetActiveCamera switches the active camera. The camera must already exist.
func (m *Manager) SetActiveCamera(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cameras[id]; !ok {
		return &UnknownEntityError{Kind: "camera", Name: id}
	}
	m.active = id
	return nil
}

// DefineZone defines or re-geometries a zone. An unknown camera id is
// created on first definition, matching the operator workflow of drawing on
// a newly connected feed.
func (m *Manager) DefineZone(cameraID, name string, rect geometry.Rect) error {
	if cameraID == "" {
		return Validationf("camera_id must not be empty")
	}
	return m.ensureCamera(cameraID).DefineZone(name, rect)
}

// DefineLine defines or re-geometries a line, creating the camera if needed.
func (m *Manager) DefineLine(cameraID, name string, seg geometry.Segment) error {
	if cameraID == "" {
		return Validationf("camera_id must not be empty")
	}
	return m.ensureCamera(cameraID).DefineLine(name, seg)
}

// ResetZone zeroes a zone's counters and occupancy.
func (m *Manager) ResetZone(cameraID, name string) error {
	c, err := m.camera(cameraID)
	if err != nil {
		return err
	}
	return c.ResetZone(name)
}

// ResetLine zeroes a line's counters and clears its history.
func (m *Manager) ResetLine(cameraID, name string) error {
	c, err := m.camera(cameraID)
	if err != nil {
		return err
	}
	return c.ResetLine(name)
}

// DeleteZone removes a zone.
func (m *Manager) DeleteZone(cameraID, name string) error {
	c, err := m.camera(cameraID)
	if err != nil {
		return err
	}
	return c.DeleteZone(name)
}

// DeleteLine removes a line.
func (m *Manager) DeleteLine(cameraID, name string) error {
	c, err := m.camera(cameraID)
	if err != nil {
		return err
	}
	return c.DeleteLine(name)
}

// IngestFrame feeds one detection frame to its camera's crossing detector
// and returns the derived events. A frame for an unknown camera returns an
// UnknownCameraIngestError so the caller can drop and log it; one camera's
// fault never touches another camera's state.
func (m *Manager) IngestFrame(frame Frame) ([]Event, error) {
	m.mu.RLock()
	c, ok := m.cameras[frame.CameraID]
	m.mu.RUnlock()
	if !ok {
		return nil, &UnknownCameraIngestError{CameraID: frame.CameraID}
	}
	return c.ObserveFrame(frame), nil
}

// Ingest feeds a single track sample.
func (m *Manager) Ingest(s Sample) ([]Event, error) {
	return m.IngestFrame(s.Frame())
}

// Snapshot returns a consistent copy of one camera's state.
func (m *Manager) Snapshot(cameraID string, nowNanos int64) (CameraSnapshot, error) {
	c, err := m.camera(cameraID)
	if err != nil {
		return CameraSnapshot{}, err
	}
	return c.Snapshot(nowNanos), nil
}

// CombinedHistory returns a camera's zone and line history entries past the
// cursor, globally time-sorted.
func (m *Manager) CombinedHistory(cameraID string, sinceSeq uint64) ([]Event, error) {
	c, err := m.camera(cameraID)
	if err != nil {
		return nil, err
	}
	return c.CombinedHistory(sinceSeq), nil
}

// EvictIdleTracks drops crossing state for tracks idle past the configured
// timeout on every camera. Returns evicted track ids keyed by camera.
func (m *Manager) EvictIdleTracks(now time.Time) map[string][]string {
	cutoff := now.Add(-m.idleTimeout).UnixNano()

	m.mu.RLock()
	cams := make([]*CameraState, 0, len(m.cameras))
	for _, c := range m.cameras {
		cams = append(cams, c)
	}
	m.mu.RUnlock()

	evicted := make(map[string][]string)
	for _, c := range cams {
		if ids := c.EvictIdle(cutoff); len(ids) > 0 {
			evicted[c.ID()] = ids
		}
	}
	return evicted
}
