package hub

import (
	"time"

	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/geometry"
	"github.com/banshee-data/footfall.report/internal/monitoring"
)

// EventArchive persists derived crossing events. The coordinator treats the
// archive as best-effort: a write failure is logged and never blocks or fails
// the detection path.
type EventArchive interface {
	Append(events []counter.Event) error
}

// Coordinator ties the counter manager to the hub: every successful mutation
// is applied first, then broadcast with a fresh snapshot, so subscribers only
// ever hear about state that is already visible to readers. Failed mutations
// are returned to the caller and never broadcast.
type Coordinator struct {
	manager *counter.Manager
	hub     *Hub
	archive EventArchive

	logf func(format string, v ...interface{})
	now  func() time.Time
}

// NewCoordinator wires a manager and hub together. archive may be nil.
func NewCoordinator(manager *counter.Manager, h *Hub, archive EventArchive) *Coordinator {
	return &Coordinator{
		manager: manager,
		hub:     h,
		archive: archive,
		logf:    monitoring.Prefixed("coordinator"),
		now:     time.Now,
	}
}

// Manager exposes the underlying counter manager for read paths.
func (co *Coordinator) Manager() *counter.Manager { return co.manager }

// Hub exposes the subscriber hub.
func (co *Coordinator) Hub() *Hub { return co.hub }

func (co *Coordinator) snapshot(cameraID string) *counter.CameraSnapshot {
	snap, err := co.manager.Snapshot(cameraID, co.now().UnixNano())
	if err != nil {
		// The camera existed a moment ago; losing the race to a delete is
		// the only way here.
		co.logf("snapshot for broadcast failed: %v", err)
		return nil
	}
	return &snap
}

// DefineZone creates or re-geometries a zone and broadcasts zone_updated.
func (co *Coordinator) DefineZone(cameraID, name string, rect geometry.Rect) error {
	if err := co.manager.DefineZone(cameraID, name, rect); err != nil {
		return err
	}
	co.hub.Publish(Notification{
		Kind:     KindZoneUpdated,
		Camera:   cameraID,
		Zone:     name,
		Snapshot: co.snapshot(cameraID),
	})
	return nil
}

// DefineLine creates or re-geometries a line and broadcasts line_updated.
func (co *Coordinator) DefineLine(cameraID, name string, seg geometry.Segment) error {
	if err := co.manager.DefineLine(cameraID, name, seg); err != nil {
		return err
	}
	co.hub.Publish(Notification{
		Kind:     KindLineUpdated,
		Camera:   cameraID,
		Line:     name,
		Snapshot: co.snapshot(cameraID),
	})
	return nil
}

// ResetZone zeroes a zone's counters and broadcasts count_reset.
func (co *Coordinator) ResetZone(cameraID, name string) error {
	if err := co.manager.ResetZone(cameraID, name); err != nil {
		return err
	}
	co.hub.Publish(Notification{
		Kind:     KindCountReset,
		Camera:   cameraID,
		Zone:     name,
		Snapshot: co.snapshot(cameraID),
	})
	return nil
}

// ResetLine zeroes a line's counters and history and broadcasts
// line_count_reset.
func (co *Coordinator) ResetLine(cameraID, name string) error {
	if err := co.manager.ResetLine(cameraID, name); err != nil {
		return err
	}
	co.hub.Publish(Notification{
		Kind:     KindLineCountReset,
		Camera:   cameraID,
		Line:     name,
		Snapshot: co.snapshot(cameraID),
	})
	return nil
}

// DeleteZone removes a zone and broadcasts zone_deleted.
func (co *Coordinator) DeleteZone(cameraID, name string) error {
	if err := co.manager.DeleteZone(cameraID, name); err != nil {
		return err
	}
	co.hub.Publish(Notification{
		Kind:     KindZoneDeleted,
		Camera:   cameraID,
		Zone:     name,
		Snapshot: co.snapshot(cameraID),
	})
	return nil
}

// DeleteLine removes a line and broadcasts line_deleted.
func (co *Coordinator) DeleteLine(cameraID, name string) error {
	if err := co.manager.DeleteLine(cameraID, name); err != nil {
		return err
	}
	co.hub.Publish(Notification{
		Kind:     KindLineDeleted,
		Camera:   cameraID,
		Line:     name,
		Snapshot: co.snapshot(cameraID),
	})
	return nil
}

// SetActiveCamera switches the active camera and broadcasts camera_changed
// with the new camera's snapshot.
func (co *Coordinator) SetActiveCamera(cameraID string) error {
	if err := co.manager.SetActiveCamera(cameraID); err != nil {
		return err
	}
	co.hub.Publish(Notification{
		Kind:     KindCameraChanged,
		Camera:   cameraID,
		Snapshot: co.snapshot(cameraID),
	})
	return nil
}

// IngestFrame feeds one detection frame through the manager and archives any
// derived events. Counts reach subscribers through the periodic PushCounts
// tick rather than per event, keeping broadcast volume independent of frame
// rate.
func (co *Coordinator) IngestFrame(frame counter.Frame) ([]counter.Event, error) {
	events, err := co.manager.IngestFrame(frame)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 && co.archive != nil {
		if err := co.archive.Append(events); err != nil {
			co.logf("event archive append failed: %v", err)
		}
	}
	return events, nil
}

// PushCounts broadcasts an update_counts snapshot of the active camera. The
// server calls this on a fixed interval.
func (co *Coordinator) PushCounts() {
	active := co.manager.ActiveCamera()
	if active == "" {
		return
	}
	snap := co.snapshot(active)
	if snap == nil {
		return
	}
	co.hub.Publish(Notification{
		Kind:     KindUpdateCounts,
		Camera:   active,
		Snapshot: snap,
	})
}

// SendInitialData delivers the full current state to one subscriber, sent
// once when a client connects.
func (co *Coordinator) SendInitialData(subscriberID string) {
	active := co.manager.ActiveCamera()
	space := co.manager.Space()
	n := Notification{
		Kind:         KindInitialData,
		Camera:       active,
		ActiveCamera: active,
		Cameras:      co.manager.CameraIDs(),
		Space:        &space,
	}
	if active != "" {
		n.Snapshot = co.snapshot(active)
	}
	co.hub.NotifyOne(subscriberID, n)
}

// SendCurrentData delivers one camera's snapshot to a single subscriber, the
// pull counterpart of the periodic push. An empty cameraID means the active
// camera.
func (co *Coordinator) SendCurrentData(subscriberID, cameraID string) error {
	if cameraID == "" {
		cameraID = co.manager.ActiveCamera()
	}
	snap, err := co.manager.Snapshot(cameraID, co.now().UnixNano())
	if err != nil {
		return err
	}
	co.hub.NotifyOne(subscriberID, Notification{
		Kind:     KindCurrentData,
		Camera:   cameraID,
		Snapshot: &snap,
	})
	return nil
}

// SendError delivers an error notification to one subscriber only.
func (co *Coordinator) SendError(subscriberID, message string) {
	co.hub.NotifyOne(subscriberID, Notification{Kind: KindError, Message: message})
}
