package protocol

// Queue holds pending requests in execution order. A type may appear more
// than once; lookups always match the request closest to the head.
// Queue is not safe for concurrent use.
type Queue struct {
	items []Request
}

// NewQueue returns a queue holding reqs in order.
func NewQueue(reqs ...Request) *Queue {
	q := &Queue{}
	q.Push(reqs...)
	return q
}

// Push appends reqs to the tail.
func (q *Queue) Push(reqs ...Request) {
	q.items = append(q.items, reqs...)
}

// Unshift inserts reqs at the head, keeping their relative order.
func (q *Queue) Unshift(reqs ...Request) {
	if len(reqs) == 0 {
		return
	}
	items := make([]Request, 0, len(reqs)+len(q.items))
	items = append(items, reqs...)
	q.items = append(items, q.items...)
}

// TakeNext returns the first request of type t. If remove is true the
// request is also dropped from the queue.
func (q *Queue) TakeNext(t MessageType, remove bool) (Request, bool) {
	for i, r := range q.items {
		if r.ID != t {
			continue
		}
		if remove {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
		}
		return r, true
	}
	return Request{}, false
}

// Contains reports whether a request of type t is pending.
func (q *Queue) Contains(t MessageType) bool {
	for _, r := range q.items {
		if r.ID == t {
			return true
		}
	}
	return false
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	return len(q.items)
}
