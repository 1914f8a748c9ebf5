package queue

// FIFO is a first-in first-out queue backed by a slice.
// It is not safe for concurrent use; callers guard it with their own lock.
type FIFO[T any] struct {
	items []T
	head  int // Index of the next item to pop
}

// NewFIFO creates an empty queue with room for capacity items
func NewFIFO[T any](capacity int) *FIFO[T] {
	return &FIFO[T]{items: make([]T, 0, capacity)}
}

// Push appends an item to the tail
func (q *FIFO[T]) Push(item T) {
	q.items = append(q.items, item)
}

// Pop removes and returns the head item; ok is false when the queue is empty
func (q *FIFO[T]) Pop() (item T, ok bool) {
	if q.head >= len(q.items) {
		return item, false
	}
	item = q.items[q.head]
	var zero T
	q.items[q.head] = zero // release reference
	q.head++

	// Compact once the consumed prefix dominates the backing array
	if q.head > 1024 && q.head*2 >= len(q.items) {
		remaining := copy(q.items, q.items[q.head:])
		clear(q.items[remaining:])
		q.items = q.items[:remaining]
		q.head = 0
	}
	return item, true
}

// Peek returns the head item without removing it; ok is false when the queue is empty
func (q *FIFO[T]) Peek() (item T, ok bool) {
	if q.head >= len(q.items) {
		return item, false
	}
	return q.items[q.head], true
}

// Len returns the number of queued items
func (q *FIFO[T]) Len() int {
	return len(q.items) - q.head
}
