package telegram

import (
	"sync"

	"chat-relay/internal/transport"
)

// messageCache keeps recently seen inbound events so Fetch can serve
// regeneration requests. Telegram's bot API has no message lookup, so
// the bot remembers what it has seen.
type messageCache struct {
	mu    sync.Mutex
	limit int
	order []string
	byID  map[string]transport.Event
}

func newMessageCache(limit int) *messageCache {
	return &messageCache{
		limit: limit,
		byID:  make(map[string]transport.Event),
	}
}

func (c *messageCache) put(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.byID[ev.MessageID]; !seen {
		c.order = append(c.order, ev.MessageID)
		for len(c.order) > c.limit {
			delete(c.byID, c.order[0])
			c.order = c.order[1:]
		}
	}
	c.byID[ev.MessageID] = ev
}

func (c *messageCache) get(messageID string) (transport.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.byID[messageID]
	return ev, ok
}
