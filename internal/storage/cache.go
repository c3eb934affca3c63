package storage

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/tobsdb/recstore/internal/chained"
	"github.com/tobsdb/recstore/internal/record"
)

type cachedSnapshot struct {
	size int
	sum  uint64
	rows []record.Record
}

// snapshotCache keeps decoded snapshots keyed by table name. An entry is only
// served while the file content has the same length and xxhash, so a cache
// hit saves the decode but not the read.
type snapshotCache struct {
	locker sync.Mutex
	lru    *chained.LRU[string, *cachedSnapshot]

	hits, misses int
}

func newSnapshotCache(size int) *snapshotCache {
	if size < 1 {
		return &snapshotCache{}
	}
	return &snapshotCache{lru: chained.NewLRU[string, *cachedSnapshot](size)}
}

func (c *snapshotCache) load(table string, data []byte) ([]record.Record, bool) {
	if c.lru == nil {
		return nil, false
	}
	c.locker.Lock()
	defer c.locker.Unlock()

	snap, ok := c.lru.Get(table)
	if !ok || snap.size != len(data) || snap.sum != xxhash.Sum64(data) {
		c.misses++
		return nil, false
	}
	c.hits++
	return record.CloneAll(snap.rows), true
}

func (c *snapshotCache) store(table string, data []byte, rows []record.Record) {
	if c.lru == nil {
		return
	}
	c.locker.Lock()
	defer c.locker.Unlock()
	c.lru.Put(table, &cachedSnapshot{len(data), xxhash.Sum64(data), record.CloneAll(rows)})
}

func (c *snapshotCache) forget(table string) {
	if c.lru == nil {
		return
	}
	c.locker.Lock()
	defer c.locker.Unlock()
	c.lru.Delete(table)
}

type CacheStats struct {
	Entries int `json:"entries"`
	Hits    int `json:"hits"`
	Misses  int `json:"misses"`
}

func (c *snapshotCache) stats() CacheStats {
	if c.lru == nil {
		return CacheStats{}
	}
	c.locker.Lock()
	defer c.locker.Unlock()
	return CacheStats{c.lru.Len(), c.hits, c.misses}
}

// CacheStats reports the snapshot cache counters.
func (e *Engine) CacheStats() CacheStats { return e.cache.stats() }
