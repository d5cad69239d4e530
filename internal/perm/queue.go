package perm

import "time"

// DefaultQueueCap bounds how many authorization asks can wait at once. The
// agent stalls on its own prompt anyway, so a deep backlog only means the
// operator has stopped responding.
const DefaultQueueCap = 8

// Queue is a bounded FIFO of pending permission requests. It is not
// goroutine safe; the owning Channel serializes access.
type Queue struct {
	cap  int
	reqs []*Request
}

// NewQueue returns a queue with the given capacity (DefaultQueueCap when
// n <= 0).
func NewQueue(n int) *Queue {
	if n <= 0 {
		n = DefaultQueueCap
	}
	return &Queue{cap: n}
}

// Push appends req unless the queue is full or the uid is already queued.
// Returns false when the request was not accepted.
func (q *Queue) Push(req *Request) bool {
	if len(q.reqs) >= q.cap {
		return false
	}
	for _, r := range q.reqs {
		if r.UID == req.UID {
			return false
		}
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}
	q.reqs = append(q.reqs, req)
	return true
}

// Head returns the oldest pending request, or nil.
func (q *Queue) Head() *Request {
	if len(q.reqs) == 0 {
		return nil
	}
	return q.reqs[0]
}

// Pop removes and returns the head, or nil when empty.
func (q *Queue) Pop() *Request {
	if len(q.reqs) == 0 {
		return nil
	}
	head := q.reqs[0]
	q.reqs = q.reqs[1:]
	return head
}

// Clear empties the queue and returns the removed requests in FIFO order.
func (q *Queue) Clear() []*Request {
	out := q.reqs
	q.reqs = nil
	return out
}

// Len reports how many requests are waiting.
func (q *Queue) Len() int {
	return len(q.reqs)
}

// PopExpired removes requests older than maxAge from the head of the queue,
// in FIFO order. Younger entries behind an expired head are left alone until
// they reach the head themselves, keeping resolution strictly ordered.
func (q *Queue) PopExpired(maxAge time.Duration, now time.Time) []*Request {
	var expired []*Request
	for len(q.reqs) > 0 && now.Sub(q.reqs[0].EnqueuedAt) >= maxAge {
		expired = append(expired, q.reqs[0])
		q.reqs = q.reqs[1:]
	}
	return expired
}
