package session

import "sync"

// counter is the session's flag counter. It only grows, and stops accepting
// increments once frozen.
type counter struct {
	mu     sync.Mutex
	n      int
	frozen bool
}

// Increment implements [flag.Counter].
func (c *counter) Increment() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return c.n, false
	}
	c.n++
	return c.n, true
}

// freeze rejects further increments and returns the final count.
func (c *counter) freeze() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
	return c.n
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
