package worker

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// DefaultVisitedSize bounds the visited tracker.
const DefaultVisitedSize = 50_000

// Visited remembers which URLs were already fetched during a run. It is
// bounded; once full, the least recently seen URLs may be fetched again.
type Visited struct {
	cache *lru.Cache[string, struct{}]
}

// NewVisited returns a tracker holding up to size URLs.
func NewVisited(size int) (*Visited, error) {
	if size <= 0 {
		size = DefaultVisitedSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("visited cache: %w", err)
	}
	return &Visited{cache: cache}, nil
}

// FirstVisit marks rawURL and reports whether it had not been seen before.
func (v *Visited) FirstVisit(rawURL string) bool {
	key := visitKey(rawURL)
	if key == "" {
		return false
	}
	seen, _ := v.cache.ContainsOrAdd(key, struct{}{})
	return !seen
}

// Len returns the number of tracked URLs.
func (v *Visited) Len() int {
	return v.cache.Len()
}

func visitKey(rawURL string) string {
	normalized, err := harvest.NormalizeURL(rawURL)
	if err != nil {
		return ""
	}
	return harvest.DedupeKey(normalized)
}
