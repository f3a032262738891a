package conversation

import (
	"hash/fnv"
	"sync"
)

const defaultShards = 32

type entry struct {
	mu      sync.Mutex
	session Session
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Store keeps one Session per conversation id in memory. Keys are spread
// over shards so unrelated conversations do not share a lock; updates to the
// same key are serialized by a per-entry mutex.
type Store struct {
	shards []*shard
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{shards: make([]*shard, defaultShards)}
	for i := range s.shards {
		s.shards[i] = &shard{entries: map[string]*entry{}}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *Store) entry(id string) *entry {
	sh := s.shardFor(id)
	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	if ok {
		return e
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[id]; ok {
		return e
	}
	e = &entry{session: Session{State: StateStart}}
	sh.entries[id] = e
	return e
}

// Get returns the session for id, creating a Start session on first use.
func (s *Store) Get(id string) Session {
	e := s.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Update runs fn with exclusive access to the session of id and stores the
// settled result. It returns the stored session.
func (s *Store) Update(id string, fn func(Session) Session) Session {
	e := s.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = fn(e.session).Settle()
	return e.session
}

// Len returns the number of known conversations.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
