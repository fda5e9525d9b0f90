package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It is the fallback when
// Redis is not configured and the double used by the unit tests. Expiry is
// checked lazily on access.
type MemoryStore struct {
	mu   sync.Mutex
	vals map[string]memoryValue
	sets map[string]map[string]float64
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time // zero = no expiry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vals: make(map[string]memoryValue),
		sets: make(map[string]map[string]float64),
	}
}

func (s *MemoryStore) expired(v memoryValue) bool {
	return !v.expiresAt.IsZero() && time.Now().After(v.expiresAt)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	if !ok || s.expired(v) {
		delete(s.vals, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(v.data))
	copy(out, v.data)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = newMemoryValue(value, ttl)
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vals[key]; ok && !s.expired(v) {
		return false, nil
	}
	s.vals[key] = newMemoryValue(value, ttl)
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vals, key)
	delete(s.sets, key)
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	expiresAt := time.Time{}
	if v, ok := s.vals[key]; ok && !s.expired(v) {
		parsed, err := strconv.ParseInt(string(v.data), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
		expiresAt = v.expiresAt
	}
	// An expired counter restarts from scratch with no expiry, like Redis
	// INCR on a key whose TTL has elapsed.
	n++
	s.vals[key] = memoryValue{data: []byte(strconv.FormatInt(n, 10)), expiresAt: expiresAt}
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	if !ok || s.expired(v) {
		return nil
	}
	v.expiresAt = time.Now().Add(ttl)
	s.vals[key] = v
	return nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	if !ok || s.expired(v) {
		return -2 * time.Second, nil
	}
	if v.expiresAt.IsZero() {
		return -1 * time.Second, nil
	}
	return time.Until(v.expiresAt), nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]float64)
		s.sets[key] = set
	}
	set[member] = score
	return nil
}

func (s *MemoryStore) ZPopMin(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.minMember(key)
	if !ok {
		return "", ErrNotFound
	}
	delete(s.sets[key], member)
	return member, nil
}

func (s *MemoryStore) ZRem(_ context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sets[key]; ok {
		delete(set, member)
	}
	return nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

func (s *MemoryStore) ZRank(_ context.Context, key string, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return 0, ErrNotFound
	}
	if _, ok := set[member]; !ok {
		return 0, ErrNotFound
	}
	for i, m := range sortedMembers(set) {
		if m == member {
			return int64(i), nil
		}
	}
	return 0, ErrNotFound
}

func (s *MemoryStore) minMember(key string) (string, bool) {
	set := s.sets[key]
	if len(set) == 0 {
		return "", false
	}
	members := sortedMembers(set)
	return members[0], true
}

// sortedMembers orders by score then member for a stable tie-break.
func sortedMembers(set map[string]float64) []string {
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := set[members[i]], set[members[j]]
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
	return members
}

func newMemoryValue(value []byte, ttl time.Duration) memoryValue {
	data := make([]byte, len(value))
	copy(data, value)
	v := memoryValue{data: data}
	if ttl > 0 {
		v.expiresAt = time.Now().Add(ttl)
	}
	return v
}
