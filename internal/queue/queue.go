package queue

import (
	"sync"

	"github.com/go-scripts/travelcrawl/internal/types"
)

// Queue is a thread-safe FIFO of crawl targets. A URL is accepted at most
// once per depth for the lifetime of the queue.
type Queue struct {
	targets []types.CrawlTarget
	seen    map[int]map[string]bool
	mu      sync.Mutex
}

// New creates a new Queue instance
func New() *Queue {
	return &Queue{
		targets: make([]types.CrawlTarget, 0),
		seen:    make(map[int]map[string]bool),
	}
}

// Add enqueues a target unless its URL was already added at the same depth.
func (q *Queue) Add(t types.CrawlTarget) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	level := q.seen[t.Depth]
	if level == nil {
		level = make(map[string]bool)
		q.seen[t.Depth] = level
	}
	if level[t.URL] {
		return false
	}
	level[t.URL] = true
	q.targets = append(q.targets, t)
	return true
}

// AddAll enqueues every URL at depth and returns how many were new.
func (q *Queue) AddAll(urls []string, depth int) int {
	added := 0
	for _, u := range urls {
		if q.Add(types.CrawlTarget{URL: u, Depth: depth}) {
			added++
		}
	}
	return added
}

// Drain removes and returns every pending target in order.
func (q *Queue) Drain() []types.CrawlTarget {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.targets
	q.targets = make([]types.CrawlTarget, 0)
	return out
}

// SeenCount returns the number of distinct URLs ever added at depth.
func (q *Queue) SeenCount(depth int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.seen[depth])
}
