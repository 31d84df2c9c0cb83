package tracking

// IDPool issues CellIDs which were never observed in a video.
// Issued or observed IDs are never handed out again, even after deletion.
type IDPool struct {
	next int
}

// NewIDPool creates pool which starts issuing from 1
func NewIDPool() *IDPool {
	return &IDPool{next: 1}
}

// Observe marks IDs as used
func (pool *IDPool) Observe(ids ...int) {
	for _, id := range ids {
		if id >= pool.next {
			pool.next = id + 1
		}
	}
}

// Next issues a fresh ID
func (pool *IDPool) Next() int {
	id := pool.next
	pool.next++
	return id
}

// Peek returns the ID which would be issued next
func (pool *IDPool) Peek() int {
	return pool.next
}

// Reset sets next free ID explicitly. Values below 1 are clamped
func (pool *IDPool) Reset(next int) {
	if next < 1 {
		next = 1
	}
	pool.next = next
}
