package counter

import (
	"github.com/banshee-data/footfall.report/internal/geometry"
)

// Action classifies a derived transition event.
type Action string

const (
	ActionEnter Action = "ENTER" // track moved into a zone
	ActionExit  Action = "EXIT"  // track moved out of a zone
	ActionIn    Action = "IN"    // track crossed a line positive-to-negative
	ActionOut   Action = "OUT"   // track crossed a line negative-to-positive
)

// TargetKind identifies whether an event belongs to a zone or a line.
type TargetKind string

const (
	TargetZone TargetKind = "zone"
	TargetLine TargetKind = "line"
)

// TrackObs is one tracked object's position within a frame.
type TrackObs struct {
	TrackID string  `json:"track_id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// Frame is one camera's batch of track observations for a single processed
// frame, as delivered by the external detection/tracking subsystem.
type Frame struct {
	CameraID  string     `json:"camera_id"`
	UnixNanos int64      `json:"timestamp"`
	Tracks    []TrackObs `json:"tracks"`
}

// Sample is a single track position report. A Sample is a one-track Frame.
type Sample struct {
	CameraID  string  `json:"camera_id"`
	TrackID   string  `json:"track_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	UnixNanos int64   `json:"timestamp"`
}

// Frame converts the sample to a single-observation frame.
func (s Sample) Frame() Frame {
	return Frame{
		CameraID:  s.CameraID,
		UnixNanos: s.UnixNanos,
		Tracks:    []TrackObs{{TrackID: s.TrackID, X: s.X, Y: s.Y}},
	}
}

// HistoryEntry is one immutable transition record in a zone or line history.
// Seq is the camera-wide insertion sequence; entries sharing a timestamp keep
// their append order when sorted by Seq.
type HistoryEntry struct {
	TrackID   string `json:"track_id"`
	Action    Action `json:"action"`
	UnixNanos int64  `json:"time"`
	Seq       uint64 `json:"seq"`
}

// Event is a derived transition emitted by the crossing detector. Events are
// timestamped from the sample that produced them, not wall clock, so replays
// are deterministic.
type Event struct {
	CameraID  string     `json:"camera_id"`
	Kind      TargetKind `json:"kind"`
	Name      string     `json:"name"`
	TrackID   string     `json:"track_id"`
	Action    Action     `json:"action"`
	UnixNanos int64      `json:"time"`
	Seq       uint64     `json:"seq"`
}

// DwellStats summarises how long current occupants have been inside a zone.
type DwellStats struct {
	Active     int     `json:"active"`
	AvgSeconds float64 `json:"avg_dwell"`
	MaxSeconds float64 `json:"max_dwell"`
}

// ZoneSnapshot is an immutable copy of one zone's state. History is ordered
// newest-first for UI consumption.
type ZoneSnapshot struct {
	TopLeft     geometry.Point `json:"top_left"`
	BottomRight geometry.Point `json:"bottom_right"`
	InCount     int            `json:"in_count"`
	OutCount    int            `json:"out_count"`
	InsideIDs   []string       `json:"inside_ids"`
	History     []HistoryEntry `json:"history"`
	Dwell       DwellStats     `json:"dwell"`
}

// LineSnapshot is an immutable copy of one line's state. History is ordered
// newest-first.
type LineSnapshot struct {
	Start    geometry.Point `json:"start"`
	End      geometry.Point `json:"end"`
	InCount  int            `json:"in_count"`
	OutCount int            `json:"out_count"`
	History  []HistoryEntry `json:"history"`
}

// CameraSnapshot is a point-in-time copy of a camera's full zone and line
// state. Subscribers receive snapshots, never references into live state.
type CameraSnapshot struct {
	CameraID string                  `json:"camera_id"`
	Zones    map[string]ZoneSnapshot `json:"zones"`
	Lines    map[string]LineSnapshot `json:"lines"`
}
