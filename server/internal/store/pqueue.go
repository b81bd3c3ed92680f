package store

// entry is one admitted message. The heap may keep an entry after it has been
// popped; it is live only while the index maps its id to this same pointer.
type entry struct {
	id        string
	priority  int
	timestamp int64
}

// before reports whether a is served ahead of b: higher priority first,
// then earlier timestamp.
func before(a, b *entry) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.timestamp < b.timestamp
}

// pqueue implements heap.Interface over entries ordered by before.
type pqueue struct {
	entries []*entry
}

func (q *pqueue) Len() int {
	return len(q.entries)
}

func (q *pqueue) Less(i, j int) bool {
	return before(q.entries[i], q.entries[j])
}

func (q *pqueue) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
}

func (q *pqueue) Push(x any) {
	q.entries = append(q.entries, x.(*entry))
}

func (q *pqueue) Pop() any {
	n := len(q.entries) - 1
	e := q.entries[n]

	q.entries[n] = nil // avoid memory leak
	q.entries = q.entries[:n]

	return e
}
