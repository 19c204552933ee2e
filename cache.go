package dronesdk

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// FieldCache holds the newest unread fields per channel for connections
// whose devices push data on their own schedule. It implements the
// polling side of Connection.
type FieldCache struct {
	mu     sync.Mutex
	latest map[Channel]Fields

	connected atomic.Bool
	name      string
}

func NewFieldCache(name string) *FieldCache {
	return &FieldCache{
		latest: map[Channel]Fields{},
		name:   name,
	}
}

// Put replaces the unread fields for ch.
func (c *FieldCache) Put(ch Channel, f Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[ch] = f
}

// Take returns and clears the unread fields for ch, or nil if there are
// none.
func (c *FieldCache) Take(ch Channel) Fields {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.latest[ch]
	if !ok {
		return nil
	}
	delete(c.latest, ch)
	return f
}

func (c *FieldCache) SetConnected(v bool) {
	c.connected.Store(v)
}

// Get is the Connection polling side: an error while the device is
// disconnected, otherwise the unread fields if any.
func (c *FieldCache) Get(ch Channel) (Fields, error) {
	if !c.connected.Load() {
		return nil, errors.Errorf("%s not connected", c.name)
	}
	return c.Take(ch), nil
}
