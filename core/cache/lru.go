package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	Size int
}

type entry struct {
	key       string
	val       any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// LRU is a size-bounded cache with optional per-entry TTL. It is safe for
// concurrent use. After Close, Get misses and Put/Delete are no-ops.
type LRU struct {
	mu     sync.Mutex
	size   int
	ll     *list.List
	items  map[string]*list.Element
	closed bool
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	return &LRU{
		size:  opts.Size,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (l *LRU) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false
	}
	ele, ok := l.items[key]
	if !ok {
		return nil, false
	}
	e := ele.Value.(*entry)
	if e.expired(time.Now()) {
		l.removeElement(ele)
		return nil, false
	}
	l.ll.MoveToFront(ele)
	return e.val, true
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	po := newPutOptions(opts...)
	var expiresAt time.Time
	if po.TTL > 0 {
		expiresAt = time.Now().Add(po.TTL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if ele, ok := l.items[key]; ok {
		l.ll.MoveToFront(ele)
		e := ele.Value.(*entry)
		e.val = val
		e.expiresAt = expiresAt
		return
	}
	l.items[key] = l.ll.PushFront(&entry{key: key, val: val, expiresAt: expiresAt})
	if l.ll.Len() > l.size {
		if last := l.ll.Back(); last != nil {
			l.removeElement(last)
		}
	}
}

func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.removeElement(ele)
	}
}

// Len returns the number of entries, including expired ones not yet evicted.
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

func (l *LRU) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.ll.Init()
	clear(l.items)
}

func (l *LRU) removeElement(ele *list.Element) {
	l.ll.Remove(ele)
	delete(l.items, ele.Value.(*entry).key)
}

var _ Cache = (*LRU)(nil)
