package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Entry 缓存条目。Response 由调用方断言回具体类型。
type Entry struct {
	Response  any       `json:"response"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stats 缓存运行统计。
type Stats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Cache 是进程内 FIFO+TTL 缓存。Disabled 时 Get 恒为 miss、Put 为空操作。
type Cache struct {
	mu       sync.Mutex
	enabled  bool
	capacity int
	ttl      time.Duration
	items    map[string]*node
	head     *node // 最新插入
	tail     *node // 最早插入，满时先淘汰

	hits   atomic.Int64
	misses atomic.Int64
}

type node struct {
	key   string
	entry *Entry
	prev  *node
	next  *node
}

// New 创建缓存。capacity ≤ 0 时按 1 处理；enabled=false 时所有操作为空。
func New(capacity int, ttl time.Duration, enabled bool) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		enabled:  enabled,
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*node),
	}
}

// Get 返回未过期的条目。过期条目在此处惰性删除并按 miss 计。
func (c *Cache) Get(key string) (*Entry, bool) {
	if !c.enabled {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if time.Now().After(n.entry.ExpiresAt) {
		c.remove(n)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return n.entry, true
}

// Put 插入或覆盖条目。覆盖视为一次新插入（位置移到队头，过期时间重算）。
func (c *Cache) Put(key string, response any) {
	if !c.enabled {
		return
	}

	now := time.Now()
	entry := &Entry{
		Response:  response,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		n.entry = entry
		c.unlink(n)
		c.pushFront(n)
		return
	}

	if len(c.items) >= c.capacity {
		c.remove(c.tail)
	}

	n := &node{key: key, entry: entry}
	c.items[key] = n
	c.pushFront(n)
}

// Clear 清空全部条目，命中计数保留。
func (c *Cache) Clear() {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*node)
	c.head = nil
	c.tail = nil
}

// Len 返回当前条目数（含未被惰性删除的过期条目）。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Enabled 返回缓存是否启用。
func (c *Cache) Enabled() bool {
	return c.enabled
}

// HitRate 返回启动以来的 hits/(hits+misses)，无访问时为 0。
func (c *Cache) HitRate() float64 {
	h := c.hits.Load()
	m := c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// Snapshot 返回统计快照。
func (c *Cache) Snapshot() Stats {
	return Stats{
		Size:    c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		HitRate: c.HitRate(),
	}
}

// 以下链表操作要求持有 c.mu。

func (c *Cache) pushFront(n *node) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *Cache) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}

func (c *Cache) remove(n *node) {
	if n == nil {
		return
	}
	c.unlink(n)
	delete(c.items, n.key)
}
