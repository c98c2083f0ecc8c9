package health

import (
	"sync"
)

// hashMultiplier is used in the hash function for shard selection.
const hashMultiplier = 31

// shardCount is the number of independent lock domains.
const shardCount = 16

// shardedRecords distributes health records across 16 shards so lookups for
// distinct vendors never contend on a shared lock.
type shardedRecords struct {
	shards [shardCount]struct {
		sync.RWMutex
		records map[string]*record
	}
}

func newShardedRecords() *shardedRecords {
	sr := new(shardedRecords)
	for i := range sr.shards {
		sr.shards[i].records = make(map[string]*record)
	}
	return sr
}

func (sr *shardedRecords) shard(key string) int {
	var hash uint32
	for i := 0; i < len(key); i++ {
		hash = hash*hashMultiplier + uint32(key[i])
	}
	return int(hash % uint32(len(sr.shards)))
}

// get returns the record for key if it exists.
func (sr *shardedRecords) get(key string) (*record, bool) {
	shard := &sr.shards[sr.shard(key)]
	shard.RLock()
	rec, ok := shard.records[key]
	shard.RUnlock()
	return rec, ok
}

// getOrCreate returns the existing record or lazily creates one using
// double-checked locking.
func (sr *shardedRecords) getOrCreate(key string) *record {
	if rec, ok := sr.get(key); ok {
		return rec
	}

	shard := &sr.shards[sr.shard(key)]
	shard.Lock()
	defer shard.Unlock()

	if rec, ok := shard.records[key]; ok {
		return rec
	}
	rec := newRecord()
	shard.records[key] = rec
	return rec
}

// delete drops the record for key.
func (sr *shardedRecords) delete(key string) {
	shard := &sr.shards[sr.shard(key)]
	shard.Lock()
	delete(shard.records, key)
	shard.Unlock()
}

// clear drops every record.
func (sr *shardedRecords) clear() {
	for i := range sr.shards {
		shard := &sr.shards[i]
		shard.Lock()
		shard.records = make(map[string]*record)
		shard.Unlock()
	}
}

// each visits every record; fn must not call back into the store.
func (sr *shardedRecords) each(fn func(key string, rec *record)) {
	for i := range sr.shards {
		shard := &sr.shards[i]
		shard.RLock()
		for k, r := range shard.records {
			fn(k, r)
		}
		shard.RUnlock()
	}
}
