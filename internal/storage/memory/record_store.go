// Package memory contains in-memory stores used during a harvest run.
package memory

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

const defaultShards = 32

// RecordStore is the run's deduplicator: one record per canonical address,
// merged with a commutative, idempotent union so worker order never matters.
type RecordStore struct {
	shards []*recordShard
}

type recordShard struct {
	mu      sync.Mutex
	entries map[string]*recordEntry
}

type recordEntry struct {
	email       string
	sources     map[string]struct{}
	notes       map[string]struct{}
	firstSeen   time.Time
	firstSource string
}

// NewRecordStore constructs a RecordStore with the default shard count.
func NewRecordStore() *RecordStore {
	return NewRecordStoreWithShards(defaultShards)
}

// NewRecordStoreWithShards constructs a RecordStore with n lock shards.
func NewRecordStoreWithShards(n int) *RecordStore {
	if n <= 0 {
		n = 1
	}
	shards := make([]*recordShard, n)
	for i := range shards {
		shards[i] = &recordShard{entries: make(map[string]*recordEntry)}
	}
	return &RecordStore{shards: shards}
}

// Merge folds one extraction into the store. Empty emails are ignored.
func (s *RecordStore) Merge(ext harvest.Extraction) {
	email := strings.ToLower(strings.TrimSpace(ext.Email))
	if email == "" {
		return
	}
	shard := s.shard(email)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[email]
	if !ok {
		entry = &recordEntry{
			email:       email,
			sources:     make(map[string]struct{}),
			notes:       make(map[string]struct{}),
			firstSeen:   ext.SeenAt,
			firstSource: ext.Source,
		}
		shard.entries[email] = entry
	}
	if ext.Source != "" {
		entry.sources[ext.Source] = struct{}{}
	}
	if label := ext.Label(); label != "" {
		entry.notes[label] = struct{}{}
	}
	if earlier(ext.SeenAt, ext.Source, entry.firstSeen, entry.firstSource) {
		entry.firstSeen = ext.SeenAt
		entry.firstSource = ext.Source
	}
}

// earlier orders sightings by time, then by source so ties resolve the same way
// regardless of arrival order.
func earlier(at time.Time, source string, curAt time.Time, curSource string) bool {
	if at.Before(curAt) {
		return true
	}
	if at.Equal(curAt) {
		return curSource == "" || (source != "" && source < curSource)
	}
	return false
}

// Len returns the number of distinct addresses.
func (s *RecordStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}

// Snapshot returns a copy of every record sorted by email.
func (s *RecordStore) Snapshot() []harvest.EmailRecord {
	var out []harvest.EmailRecord
	for _, shard := range s.shards {
		shard.mu.Lock()
		for _, entry := range shard.entries {
			out = append(out, entry.record())
		}
		shard.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

func (e *recordEntry) record() harvest.EmailRecord {
	return harvest.EmailRecord{
		Email:       e.email,
		FirstSource: e.firstSource,
		Sources:     sortedKeys(e.sources),
		Domain:      harvest.SourceDomain(e.firstSource),
		FirstSeen:   e.firstSeen,
		Notes:       sortedKeys(e.notes),
	}
}

func (s *RecordStore) shard(key string) *recordShard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum64()%uint64(len(s.shards))]
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
