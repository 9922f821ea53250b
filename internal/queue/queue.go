package queue

import "sync"

// OfflineQueue buffers serialized payloads for users that could not be reached.
// Each user's queue holds at most maxSize entries; the oldest entry is dropped
// when a new one would exceed the bound.
type OfflineQueue struct {
	maxSize int
	mu      sync.Mutex
	queues  map[string][][]byte
}

// New creates an OfflineQueue bounded to maxSize entries per user.
func New(maxSize int) *OfflineQueue {
	if maxSize <= 0 {
		maxSize = 20
	}
	return &OfflineQueue{
		maxSize: maxSize,
		queues:  make(map[string][][]byte),
	}
}

// Enqueue appends payload to userID's queue and returns the number of entries
// evicted to keep the queue within bounds.
func (q *OfflineQueue) Enqueue(userID string, payload []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := append(q.queues[userID], payload)
	dropped := 0
	if over := len(entries) - q.maxSize; over > 0 {
		dropped = over
		entries = append([][]byte(nil), entries[over:]...)
	}
	q.queues[userID] = entries
	return dropped
}

// Drain removes and returns every queued payload for userID in FIFO order.
func (q *OfflineQueue) Drain(userID string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.queues[userID]
	delete(q.queues, userID)
	return entries
}

// Len returns the number of payloads queued for userID.
func (q *OfflineQueue) Len(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[userID])
}

// Cap returns the per-user bound.
func (q *OfflineQueue) Cap() int {
	return q.maxSize
}
