package counter

import (
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/footfall.report/internal/geometry"
)

// Zone is a named rectangular region tracked for occupancy. All fields are
// owned by the camera's mutation lock.
type Zone struct {
	Name     string
	Rect     geometry.Rect
	InCount  int
	OutCount int

	// inside maps occupant track id to the UnixNanos of its ENTER sample,
	// which feeds the dwell statistics in snapshots.
	inside  map[string]int64
	history *historyLog
}

// Line is a named directed segment tracked for crossings.
type Line struct {
	Name     string
	Segment  geometry.Segment
	InCount  int
	OutCount int

	// lastSide remembers each track's last non-zero side of the segment.
	// The first observation records a baseline without emitting a crossing.
	lastSide map[string]int
	history  *historyLog
}

// trackMemo is the per-track memory kept between frames: the last sample
// position and timestamp, and the wall-clock arrival of that sample. The
// position reconciles geometry edits; the arrival time drives idle eviction
// so replayed or lagging sample timestamps never trigger it.
type trackMemo struct {
	pos         geometry.Point
	sampleNanos int64
	seenNanos   int64
}

// CameraState is the authoritative zone/line state for one camera. Every
// mutation (detector frames, operator edits, resets) goes through the single
// per-camera mutex, so one frame's effects and one edit are never
// interleaved. Locks are per camera, never shared across cameras.
type CameraState struct {
	id         string
	space      geometry.Space
	historyCap int

	mu     sync.Mutex
	zones  map[string]*Zone
	lines  map[string]*Line
	tracks map[string]trackMemo
	seq    uint64 // camera-wide history insertion sequence

	now func() int64 // wall clock, replaceable in tests
}

func newCameraState(id string, space geometry.Space, historyCap int) *CameraState {
	return &CameraState{
		id:         id,
		space:      space,
		historyCap: historyCap,
		zones:      make(map[string]*Zone),
		lines:      make(map[string]*Line),
		tracks:     make(map[string]trackMemo),
		now:        func() int64 { return time.Now().UnixNano() },
	}
}

// ID returns the camera identifier.
func (c *CameraState) ID() string { return c.id }

// DefineZone creates the named zone or, if it already exists, replaces its
// geometry. Counters and history survive redefinition; occupancy is
// reconciled against the new rectangle so inside_ids always reflects the
// current geometry. Reset is a separate operation.
func (c *CameraState) DefineZone(name string, rect geometry.Rect) error {
	if name == "" {
		return Validationf("zone name must not be empty")
	}
	if err := c.space.ValidateRect(rect); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if z, ok := c.zones[name]; ok {
		z.Rect = rect
		c.reconcileZone(z)
		return nil
	}
	c.zones[name] = &Zone{
		Name:    name,
		Rect:    rect,
		inside:  make(map[string]int64),
		history: newHistoryLog(c.historyCap),
	}
	return nil
}

// DefineLine creates the named line or replaces its geometry, keeping
// counters and history.
func (c *CameraState) DefineLine(name string, seg geometry.Segment) error {
	if name == "" {
		return Validationf("line name must not be empty")
	}
	if err := c.space.ValidateSegment(seg); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.lines[name]; ok {
		l.Segment = seg
		c.reconcileLine(l)
		return nil
	}
	c.lines[name] = &Line{
		Name:     name,
		Segment:  seg,
		lastSide: make(map[string]int),
		history:  newHistoryLog(c.historyCap),
	}
	return nil
}

// ResetZone zeroes the zone's counters and clears its occupancy and
// per-track membership memory. Geometry and the event history are untouched;
// tracks still inside will re-ENTER on their next sample, starting a new
// counting epoch.
func (c *CameraState) ResetZone(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	z, ok := c.zones[name]
	if !ok {
		return &UnknownEntityError{Kind: "zone", Name: name, CameraID: c.id}
	}
	z.InCount = 0
	z.OutCount = 0
	z.inside = make(map[string]int64)
	return nil
}

// ResetLine zeroes the line's counters and clears its history and side
// memory.
func (c *CameraState) ResetLine(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[name]
	if !ok {
		return &UnknownEntityError{Kind: "line", Name: name, CameraID: c.id}
	}
	l.InCount = 0
	l.OutCount = 0
	l.lastSide = make(map[string]int)
	l.history.clear()
	return nil
}

// reconcileZone recomputes zone membership from every track's last-known
// position after a geometry edit. Membership changes here are silent: counts
// and history record only observed transitions, so a shrink drops occupants
// without an EXIT and an expansion admits covered tracks without an ENTER.
func (c *CameraState) reconcileZone(z *Zone) {
	for id, m := range c.tracks {
		_, wasInside := z.inside[id]
		isInside := z.Rect.Contains(m.pos)
		switch {
		case isInside && !wasInside:
			z.inside[id] = m.sampleNanos
		case !isInside && wasInside:
			delete(z.inside, id)
		}
	}
}

// reconcileLine re-baselines every known track's side against the edited
// segment, so the first sample after a geometry edit can never read as a
// crossing of the old line. A position exactly on the new line loses its
// baseline.
func (c *CameraState) reconcileLine(l *Line) {
	for id, m := range c.tracks {
		side := l.Segment.Side(m.pos)
		if side == 0 {
			delete(l.lastSide, id)
			continue
		}
		l.lastSide[id] = side
	}
}

// DeleteZone removes the named zone and all of its state.
func (c *CameraState) DeleteZone(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.zones[name]; !ok {
		return &UnknownEntityError{Kind: "zone", Name: name, CameraID: c.id}
	}
	delete(c.zones, name)
	return nil
}

// DeleteLine removes the named line and all of its state.
func (c *CameraState) DeleteLine(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lines[name]; !ok {
		return &UnknownEntityError{Kind: "line", Name: name, CameraID: c.id}
	}
	delete(c.lines, name)
	return nil
}

// ObserveFrame runs the crossing detector over one frame of track
// observations and returns the derived events in detection order. Events are
// timestamped from the frame, and the matching history entries are appended
// under the same lock, so a concurrent Snapshot never sees a count without
// its history entry.
func (c *CameraState) ObserveFrame(frame Frame) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	arrival := c.now()
	var events []Event
	for _, obs := range frame.Tracks {
		if obs.TrackID == "" {
			continue
		}
		p := geometry.Point{X: obs.X, Y: obs.Y}
		c.tracks[obs.TrackID] = trackMemo{pos: p, sampleNanos: frame.UnixNanos, seenNanos: arrival}

		for _, z := range c.zones {
			events = c.observeZone(events, z, obs.TrackID, p, frame.UnixNanos)
		}
		for _, l := range c.lines {
			events = c.observeLine(events, l, obs.TrackID, p, frame.UnixNanos)
		}
	}
	return events
}

// observeZone applies the membership transition rules for one track against
// one zone: outside->inside emits ENTER, inside->outside emits EXIT,
// no change emits nothing. Zones are independent; a track may be inside
// several at once.
func (c *CameraState) observeZone(events []Event, z *Zone, trackID string, p geometry.Point, nanos int64) []Event {
	_, wasInside := z.inside[trackID]
	isInside := z.Rect.Contains(p)

	switch {
	case isInside && !wasInside:
		z.inside[trackID] = nanos
		z.InCount++
		events = c.record(events, TargetZone, z.Name, z.history, trackID, ActionEnter, nanos)
	case !isInside && wasInside:
		delete(z.inside, trackID)
		z.OutCount++
		events = c.record(events, TargetZone, z.Name, z.history, trackID, ActionExit, nanos)
	}
	return events
}

// observeLine applies the sign-flip crossing rule for one track against one
// line. Positive-to-negative is IN, negative-to-positive is OUT; the first
// observation only records a baseline, and a sample exactly on the line
// neither fires nor re-baselines.
func (c *CameraState) observeLine(events []Event, l *Line, trackID string, p geometry.Point, nanos int64) []Event {
	side := l.Segment.Side(p)
	if side == 0 {
		return events
	}
	prev, seen := l.lastSide[trackID]
	l.lastSide[trackID] = side
	if !seen || prev == side {
		return events
	}

	if prev > 0 && side < 0 {
		l.InCount++
		events = c.record(events, TargetLine, l.Name, l.history, trackID, ActionIn, nanos)
	} else {
		l.OutCount++
		events = c.record(events, TargetLine, l.Name, l.history, trackID, ActionOut, nanos)
	}
	return events
}

// record appends a history entry and the matching event under the camera
// lock, stamping both with the next insertion sequence.
func (c *CameraState) record(events []Event, kind TargetKind, name string, h *historyLog, trackID string, action Action, nanos int64) []Event {
	c.seq++
	h.append(HistoryEntry{TrackID: trackID, Action: action, UnixNanos: nanos, Seq: c.seq})
	return append(events, Event{
		CameraID:  c.id,
		Kind:      kind,
		Name:      name,
		TrackID:   trackID,
		Action:    action,
		UnixNanos: nanos,
		Seq:       c.seq,
	})
}

// EvictIdle drops crossing state for tracks whose last sample arrived before
// the wall-clock cutoff and returns the evicted track ids. Arrival time, not
// the sample timestamp, drives eviction: replayed frames carry old timestamps
// but are not stale. Evicted occupants are removed from inside_ids without a
// synthetic EXIT: only observed transitions are history-worthy.
func (c *CameraState) EvictIdle(cutoffNanos int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []string
	for id, m := range c.tracks {
		if m.seenNanos < cutoffNanos {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		delete(c.tracks, id)
		for _, z := range c.zones {
			delete(z.inside, id)
		}
		for _, l := range c.lines {
			delete(l.lastSide, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Snapshot returns a deep copy of the camera's zone and line state at a
// single consistent instant. nowNanos anchors the dwell statistics.
func (c *CameraState) Snapshot(nowNanos int64) CameraSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := CameraSnapshot{
		CameraID: c.id,
		Zones:    make(map[string]ZoneSnapshot, len(c.zones)),
		Lines:    make(map[string]LineSnapshot, len(c.lines)),
	}
	for name, z := range c.zones {
		ids := make([]string, 0, len(z.inside))
		var dwell DwellStats
		var dwellSum float64
		for id, enteredAt := range z.inside {
			ids = append(ids, id)
			secs := float64(nowNanos-enteredAt) / 1e9
			if secs < 0 {
				secs = 0
			}
			dwellSum += secs
			if secs > dwell.MaxSeconds {
				dwell.MaxSeconds = secs
			}
		}
		sort.Strings(ids)
		dwell.Active = len(ids)
		if dwell.Active > 0 {
			dwell.AvgSeconds = dwellSum / float64(dwell.Active)
		}
		snap.Zones[name] = ZoneSnapshot{
			TopLeft:     z.Rect.TopLeft,
			BottomRight: z.Rect.BottomRight,
			InCount:     z.InCount,
			OutCount:    z.OutCount,
			InsideIDs:   ids,
			History:     z.history.newestFirst(),
			Dwell:       dwell,
		}
	}
	for name, l := range c.lines {
		snap.Lines[name] = LineSnapshot{
			Start:    l.Segment.Start,
			End:      l.Segment.End,
			InCount:  l.InCount,
			OutCount: l.OutCount,
			History:  l.history.newestFirst(),
		}
	}
	return snap
}

// CombinedHistory returns every zone and line history entry with Seq greater
// than sinceSeq, globally ordered by timestamp with insertion sequence as
// the tiebreak.
func (c *CameraState) CombinedHistory(sinceSeq uint64) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Event
	for name, z := range c.zones {
		for _, e := range z.history.oldestFirst() {
			if e.Seq > sinceSeq {
				out = append(out, Event{
					CameraID: c.id, Kind: TargetZone, Name: name,
					TrackID: e.TrackID, Action: e.Action, UnixNanos: e.UnixNanos, Seq: e.Seq,
				})
			}
		}
	}
	for name, l := range c.lines {
		for _, e := range l.history.oldestFirst() {
			if e.Seq > sinceSeq {
				out = append(out, Event{
					CameraID: c.id, Kind: TargetLine, Name: name,
					TrackID: e.TrackID, Action: e.Action, UnixNanos: e.UnixNanos, Seq: e.Seq,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnixNanos != out[j].UnixNanos {
			return out[i].UnixNanos < out[j].UnixNanos
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// TrackCount returns the number of tracks with live crossing state.
func (c *CameraState) TrackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}
