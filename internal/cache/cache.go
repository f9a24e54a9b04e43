// Package cache holds decoded article payloads between the network workers
// and the assembler. It is a bounded buffer, not a content cache: a payload
// lives here only until the assembler consumes it, and the byte budget is
// the engine's single point of back-pressure.
package cache

import (
	"errors"
	"sync"

	"github.com/nzbdaemon/nzbd/internal/decoder"
)

var ErrClosed = errors.New("article cache closed")

type ArticleCache struct {
	mu    sync.Mutex
	cond  *sync.Cond
	limit int64

	used   int64
	items  map[string]*decoder.Payload
	closed bool
}

func New(limitBytes int64) *ArticleCache {
	c := &ArticleCache{
		limit: limitBytes,
		items: make(map[string]*decoder.Payload),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Put deposits a payload, blocking while the cache is over budget. A
// blocked Put stops its worker from reading the socket, which is exactly
// the back-pressure that keeps memory bounded. Usage never exceeds the
// limit by more than one article.
func (c *ArticleCache) Put(p *decoder.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.used >= c.limit && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		return ErrClosed
	}

	if old, ok := c.items[p.MessageID]; ok {
		c.used -= int64(len(old.Body))
	}
	c.items[p.MessageID] = p
	c.used += int64(len(p.Body))
	return nil
}

// Get returns and removes a payload.
func (c *ArticleCache) Get(messageID string) (*decoder.Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.items[messageID]
	if !ok {
		return nil, false
	}
	delete(c.items, messageID)
	c.used -= int64(len(p.Body))
	c.cond.Broadcast()
	return p, true
}

// EvictJob discards the payloads of a removed job and frees their budget.
func (c *ArticleCache) EvictJob(articleIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range articleIDs {
		if p, ok := c.items[id]; ok {
			delete(c.items, id)
			c.used -= int64(len(p.Body))
		}
	}
	c.cond.Broadcast()
}

// Used reports the current byte footprint.
func (c *ArticleCache) Used() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *ArticleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Drain removes and returns everything still cached; the shutdown path
// spills these to the admin directory so a restart does not re-fetch them.
func (c *ArticleCache) Drain() []*decoder.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*decoder.Payload, 0, len(c.items))
	for _, p := range c.items {
		out = append(out, p)
	}
	c.items = make(map[string]*decoder.Payload)
	c.used = 0
	c.cond.Broadcast()
	return out
}

// Load re-inserts a spilled payload at startup without blocking; the
// budget check is skipped because nothing is downloading yet.
func (c *ArticleCache) Load(p *decoder.Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[p.MessageID] = p
	c.used += int64(len(p.Body))
}

// Close wakes every blocked Put; subsequent Puts fail.
func (c *ArticleCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
}
