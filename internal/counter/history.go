package counter

// historyLog is a capacity-bounded append-only log. Appending past capacity
// evicts the oldest entry; eviction is expected steady-state behaviour, not
// an error. Entries keep their append order.
type historyLog struct {
	entries  []HistoryEntry
	capacity int
}

func newHistoryLog(capacity int) *historyLog {
	if capacity < 1 {
		capacity = 1
	}
	return &historyLog{capacity: capacity}
}

func (h *historyLog) append(e HistoryEntry) {
	h.entries = append(h.entries, e)
	if len(h.entries) > h.capacity {
		// FIFO eviction. Copy down instead of re-slicing so the backing
		// array does not pin evicted entries.
		n := copy(h.entries, h.entries[len(h.entries)-h.capacity:])
		h.entries = h.entries[:n]
	}
}

func (h *historyLog) len() int { return len(h.entries) }

func (h *historyLog) clear() { h.entries = h.entries[:0] }

// newestFirst returns a copy of the log ordered newest-first.
func (h *historyLog) newestFirst() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	for i, e := range h.entries {
		out[len(h.entries)-1-i] = e
	}
	return out
}

// oldestFirst returns a copy of the log in append order.
func (h *historyLog) oldestFirst() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}
