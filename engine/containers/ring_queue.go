package containers

// RingQueue is a FIFO backed by a circular buffer. When the buffer is full
// Enqueue doubles its capacity instead of failing. It is not safe for
// concurrent use; callers guard it themselves.
type RingQueue[T any] struct {
	data       []T
	readIndex  int
	writeIndex int
	count      int
}

// Create a new RingQueue with the given initial capacity.
func NewRingQueue[T any](size int) *RingQueue[T] {
	if size < 1 {
		size = 1
	}
	return &RingQueue[T]{
		data: make([]T, size),
	}
}

// Enqueue adds an element to the back of the queue.
func (rq *RingQueue[T]) Enqueue(value T) {
	if rq.IsFull() {
		rq.grow()
	}
	rq.data[rq.writeIndex] = value
	rq.writeIndex = (rq.writeIndex + 1) % len(rq.data)
	rq.count++
}

// Dequeue removes and returns the front element in the queue.
func (rq *RingQueue[T]) Dequeue() (T, bool) {
	var zero T
	if rq.IsEmpty() {
		return zero, false
	}
	value := rq.data[rq.readIndex]
	rq.data[rq.readIndex] = zero
	rq.readIndex = (rq.readIndex + 1) % len(rq.data)
	rq.count--
	return value, true
}

// Peek returns the front element without removing it.
func (rq *RingQueue[T]) Peek() (T, bool) {
	if rq.IsEmpty() {
		var zero T
		return zero, false
	}
	return rq.data[rq.readIndex], true
}

func (rq *RingQueue[T]) Len() int {
	return rq.count
}

func (rq *RingQueue[T]) Cap() int {
	return len(rq.data)
}

func (rq *RingQueue[T]) IsEmpty() bool {
	return rq.count == 0
}

func (rq *RingQueue[T]) IsFull() bool {
	return rq.count == len(rq.data)
}

func (rq *RingQueue[T]) grow() {
	data := make([]T, len(rq.data)*2)
	for i := 0; i < rq.count; i++ {
		data[i] = rq.data[(rq.readIndex+i)%len(rq.data)]
	}
	rq.data = data
	rq.readIndex = 0
	rq.writeIndex = rq.count
}
