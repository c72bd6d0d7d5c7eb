package changes

// History is a bounded store of records, newest first for lookups.
//
// The limit is read on every Archive call so a reloaded configuration takes
// effect immediately. A limit <= 0 disables archiving.
//
// History is not safe for concurrent use; the engine only touches it from the
// tick goroutine.
type History struct {
	max func() int

	// records[0] is the oldest entry.
	records []Record
}

func NewHistory(max func() int) *History {
	return &History{max: max}
}

func (h *History) limit() int {
	if h.max == nil {
		return 0
	}
	return h.max()
}

// Archive evicts the oldest records until there is room, then stores r as the
// newest record. It returns the number of evicted records.
func (h *History) Archive(r Record) int {
	max := h.limit()
	if max <= 0 {
		evicted := len(h.records)
		h.records = nil
		return evicted
	}
	evicted := 0
	for len(h.records) >= max {
		h.records[0] = Record{}
		h.records = h.records[1:]
		evicted++
	}
	h.records = append(h.records, r)
	return evicted
}

// FindAndConsume removes and returns the most recent record made by actor.
func (h *History) FindAndConsume(actor string) (Record, bool) {
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].actor != actor {
			continue
		}
		r := h.records[i]
		h.records = append(h.records[:i], h.records[i+1:]...)
		return r, true
	}
	return Record{}, false
}

func (h *History) Len() int { return len(h.records) }

// Records returns the archived records newest first.
func (h *History) Records() []Record {
	out := make([]Record, 0, len(h.records))
	for i := len(h.records) - 1; i >= 0; i-- {
		out = append(out, h.records[i])
	}
	return out
}

func (h *History) Reset() { h.records = nil }
