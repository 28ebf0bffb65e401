package queue

// Fifo implements a first-in first-out (FIFO) queue of comparable elements.
//
// Besides the usual head/tail operations, a Fifo supports removing an element by value,
// which is what the list store needs to mirror an ordered remote list.
// Fifo is not safe for concurrent use.
type Fifo[T comparable] struct {
	elements []T
}

// NewFifo creates a new Fifo with the specified initial capacity and returns a pointer to it.
func NewFifo[T comparable](initialSize int) *Fifo[T] {
	if initialSize < 0 {
		initialSize = 1
	}

	return &Fifo[T]{
		elements: make([]T, 0, initialSize),
	}
}

// Enqueue adds the specified element to the tail of the queue.
func (q *Fifo[T]) Enqueue(elem T) {
	q.elements = append(q.elements, elem)
}

// EnqueueFront adds the specified element to the head of the queue.
func (q *Fifo[T]) EnqueueFront(elem T) {
	var zero T
	q.elements = append(q.elements, zero)
	copy(q.elements[1:], q.elements)
	q.elements[0] = elem
}

// Dequeue removes and returns the next element in the queue.
//
// If the length of the queue is 0, then Dequeue returns the zero value and false.
func (q *Fifo[T]) Dequeue() (T, bool) {
	var zero T
	if len(q.elements) == 0 {
		return zero, false
	}

	elem := q.elements[0]
	q.elements[0] = zero
	q.elements = q.elements[1:]

	return elem, true
}

// Peek returns but does not remove the next element in the queue.
//
// If the length of the queue is 0, then Peek returns the zero value and false.
func (q *Fifo[T]) Peek() (T, bool) {
	var zero T
	if len(q.elements) == 0 {
		return zero, false
	}

	return q.elements[0], true
}

// Remove removes up to count occurrences of elem, searching from the head, and returns how many were removed.
// A count of 0 or less removes every occurrence.
func (q *Fifo[T]) Remove(elem T, count int) int {
	removed := 0
	kept := q.elements[:0]
	for _, e := range q.elements {
		if e == elem && (count <= 0 || removed < count) {
			removed++
			continue
		}
		kept = append(kept, e)
	}

	var zero T
	for i := len(kept); i < len(q.elements); i++ {
		q.elements[i] = zero
	}
	q.elements = kept

	return removed
}

// Elements returns a copy of the queued elements in order, head first.
func (q *Fifo[T]) Elements() []T {
	return append(make([]T, 0, len(q.elements)), q.elements...)
}

// Len returns the number of elements in the queue.
func (q *Fifo[T]) Len() int {
	return len(q.elements)
}
