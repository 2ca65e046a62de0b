package llm

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// CachedCompleter memoizes answers keyed on the question and its context.
// Entries expire after ttl and the least recently used entry is evicted when
// the cache is full. Errors are not cached.
type CachedCompleter struct {
	Completer
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List
}

type answerEntry struct {
	key     string
	answer  string
	expires time.Time
}

// NewCachedCompleter wraps c. A non-positive ttl defaults to 24h.
func NewCachedCompleter(c Completer, capacity int, ttl time.Duration) *CachedCompleter {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedCompleter{
		Completer: c,
		capacity:  capacity,
		ttl:       ttl,
		now:       time.Now,
		items:     make(map[string]*list.Element),
		lru:       list.New(),
	}
}

// CacheKey returns the hex SHA-256 of "question:context".
func CacheKey(prompt string, contexts []string) string {
	sum := sha256.Sum256([]byte(prompt + ":" + strings.Join(contexts, "\n\n")))
	return hex.EncodeToString(sum[:])
}

// Complete returns a cached answer when one is fresh, otherwise delegates.
func (c *CachedCompleter) Complete(ctx context.Context, prompt string, contexts []string) (string, error) {
	key := CacheKey(prompt, contexts)
	if answer, ok := c.get(key); ok {
		return answer, nil
	}
	answer, err := c.Completer.Complete(ctx, prompt, contexts)
	if err != nil {
		return "", err
	}
	c.set(key, answer)
	return answer, nil
}

// Len returns the number of cached answers, expired ones included.
func (c *CachedCompleter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *CachedCompleter) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return "", false
	}
	entry := elem.Value.(*answerEntry)
	if !c.now().Before(entry.expires) {
		c.lru.Remove(elem)
		delete(c.items, key)
		return "", false
	}
	c.lru.MoveToFront(elem)
	return entry.answer, true
}

func (c *CachedCompleter) set(key, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires := c.now().Add(c.ttl)
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*answerEntry)
		entry.answer, entry.expires = answer, expires
		c.lru.MoveToFront(elem)
		return
	}
	c.items[key] = c.lru.PushFront(&answerEntry{key: key, answer: answer, expires: expires})
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*answerEntry).key)
	}
}
