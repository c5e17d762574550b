package session

import (
	"container/list"

	"github.com/aretw0/chatflow/pkg/domain"
)

// lruCache is a bounded most-recently-used cache over sessions. It is
// not synchronized; the Manager guards it with its own mutex.
type lruCache struct {
	max   int
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	id      string
	session *domain.Session
}

func newLRUCache(max int) *lruCache {
	return &lruCache{
		max:   max,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *lruCache) get(id string) (*domain.Session, bool) {
	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).session, true
}

func (c *lruCache) put(session *domain.Session) {
	if el, ok := c.items[session.ID]; ok {
		el.Value.(*cacheEntry).session = session
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{id: session.ID, session: session})
	c.items[session.ID] = el
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).id)
	}
}

func (c *lruCache) drop(id string) {
	if el, ok := c.items[id]; ok {
		c.order.Remove(el)
		delete(c.items, id)
	}
}
