package store

import (
	"container/heap"
	"sort"
	"sync"
)

// Priority bounds accepted by Admit, inclusive.
const (
	MinPriority = 1
	MaxPriority = 100
)

// Entry is the public view of a live message returned by FindByID.
type Entry struct {
	Priority  int   `json:"priority"`
	Timestamp int64 `json:"timestamp"`
}

// Stats is a point-in-time view of the store's size and counters.
type Stats struct {
	// Depth is the number of live messages.
	Depth int `json:"depth"`

	// Watermark is the highest timestamp admitted so far. It is meaningful
	// only when HasWatermark is true.
	Watermark    int64 `json:"watermark"`
	HasWatermark bool  `json:"has_watermark"`

	Admitted  uint64            `json:"admitted_total"`
	Popped    uint64            `json:"popped_total"`
	EmptyPops uint64            `json:"empty_pops_total"`
	Rejected  map[string]uint64 `json:"rejected_total"`
}

// RejectedTotal sums rejections over every reason.
func (s Stats) RejectedTotal() uint64 {
	var n uint64
	for _, v := range s.Rejected {
		n += v
	}
	return n
}

// Store is a thread-safe priority store keyed by message id.
// Every method takes the same lock, so admissions, pops and reads never
// observe each other half-done.
type Store struct {
	mu    sync.Mutex
	index map[string]*entry
	queue pqueue

	watermark    int64
	hasWatermark bool

	admitted  uint64
	popped    uint64
	emptyPops uint64
	rejected  map[Reason]uint64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		index:    make(map[string]*entry),
		rejected: make(map[Reason]uint64),
	}
}

// Admit adds a message to the store. It fails with an *AdmissionError if id
// is already live, priority is outside [MinPriority, MaxPriority], or
// timestamp is not greater than every timestamp admitted before it.
func (s *Store) Admit(id string, priority int, timestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r := s.check(id, priority, timestamp); r != 0 {
		s.rejected[r]++
		return &AdmissionError{ID: id, Reason: r}
	}

	e := &entry{id: id, priority: priority, timestamp: timestamp}
	s.index[id] = e
	heap.Push(&s.queue, e)
	s.watermark = timestamp
	s.hasWatermark = true
	s.admitted++
	return nil
}

func (s *Store) check(id string, priority int, timestamp int64) Reason {
	if _, ok := s.index[id]; ok {
		return DuplicateID
	}
	if priority < MinPriority || priority > MaxPriority {
		return PriorityOutOfRange
	}
	if s.hasWatermark && timestamp <= s.watermark {
		return TimestampNotIncreasing
	}
	return 0
}

// PopHighest removes and returns the id of the highest-priority live message,
// earliest timestamp first on ties. ok is false when the store is empty.
func (s *Store) PopHighest() (id string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.queue.Len() > 0 {
		e := heap.Pop(&s.queue).(*entry)
		if s.index[e.id] != e {
			continue // stale: popped earlier, possibly re-admitted since
		}
		delete(s.index, e.id)
		s.popped++
		return e.id, true
	}
	s.emptyPops++
	return "", false
}

// FindByID returns the priority and timestamp of a live message.
func (s *Store) FindByID(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{Priority: e.priority, Timestamp: e.timestamp}, true
}

// ListAll returns every live id in the order PopHighest would return them.
// The result is built from the index on each call and is never nil.
func (s *Store) ListAll() []string {
	s.mu.Lock()
	live := make([]*entry, 0, len(s.index))
	for _, e := range s.index {
		live = append(live, e)
	}
	s.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return before(live[i], live[j]) })

	ids := make([]string, len(live))
	for i, e := range live {
		ids[i] = e.id
	}
	return ids
}

// Len returns the number of live messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Stats returns a copy of the store's counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	rejected := make(map[string]uint64, len(Reasons))
	for _, r := range Reasons {
		rejected[r.String()] = s.rejected[r]
	}
	return Stats{
		Depth:        len(s.index),
		Watermark:    s.watermark,
		HasWatermark: s.hasWatermark,
		Admitted:     s.admitted,
		Popped:       s.popped,
		EmptyPops:    s.emptyPops,
		Rejected:     rejected,
	}
}
