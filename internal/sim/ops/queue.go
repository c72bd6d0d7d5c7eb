package ops

// Queue holds pending operations. Service order is LIFO: Push inserts at the
// front and the front is what Peek and Pop see, so the latest request preempts
// older ones on the next tick. A preempted operation keeps its cursor and
// resumes once everything pushed after it has completed.
//
// Queue is not safe for concurrent use.
type Queue struct {
	// items[len-1] is the front.
	items []Operation
}

func (q *Queue) Push(op Operation) {
	if op == nil {
		return
	}
	q.items = append(q.items, op)
}

func (q *Queue) Peek() (Operation, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[len(q.items)-1], true
}

func (q *Queue) Pop() (Operation, bool) {
	n := len(q.items)
	if n == 0 {
		return nil, false
	}
	op := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	return op, true
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Clear() {
	for i := range q.items {
		q.items[i] = nil
	}
	q.items = q.items[:0]
}
