// Package capture records the asset URLs a page requests while it renders.
package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-scripts/travelcrawl/internal/browser"
)

// MatchMode selects how a Pattern is compared against a response URL.
type MatchMode string

const (
	Contains MatchMode = "contains"
	Prefix   MatchMode = "prefix"
)

// Pattern identifies responses that reference downloadable assets.
type Pattern struct {
	Value string    `yaml:"value"`
	Match MatchMode `yaml:"match"`
}

// Matches reports whether url satisfies the pattern.
func (p Pattern) Matches(url string) bool {
	if p.Value == "" {
		return false
	}
	if p.Match == Prefix {
		return strings.HasPrefix(url, p.Value)
	}
	return strings.Contains(url, p.Value)
}

// Validate rejects empty values and unknown modes.
func (p Pattern) Validate() error {
	if p.Value == "" {
		return fmt.Errorf("capture pattern: empty value")
	}
	switch p.Match {
	case Contains, Prefix:
		return nil
	default:
		return fmt.Errorf("capture pattern %q: unknown match mode %q", p.Value, p.Match)
	}
}

// SettleReason tells why WaitSettled returned.
type SettleReason int

const (
	Quiet SettleReason = iota
	Ceiling
	StreamClosed
)

func (r SettleReason) String() string {
	switch r {
	case Quiet:
		return "quiet"
	case Ceiling:
		return "ceiling"
	case StreamClosed:
		return "stream closed"
	default:
		return "unknown"
	}
}

// Handle accumulates the deduplicated set of matching URLs for one visit.
// A Handle belongs to exactly one visit and is never reused.
type Handle struct {
	patterns []Pattern

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string

	activity chan struct{}
	done     chan struct{}
}

// Observe starts consuming events. It must be called before the page is
// navigated; the capture set is final only once the page has settled.
func Observe(events <-chan browser.ResponseEvent, patterns ...Pattern) *Handle {
	h := &Handle{
		patterns: patterns,
		seen:     make(map[string]struct{}),
		activity: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go h.consume(events)
	return h
}

func (h *Handle) consume(events <-chan browser.ResponseEvent) {
	defer close(h.done)
	for ev := range events {
		if h.record(ev.URL) {
			select {
			case h.activity <- struct{}{}:
			default:
			}
		}
	}
}

// record adds url if it matches and is new.
func (h *Handle) record(url string) bool {
	if !h.matches(url) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[url]; ok {
		return false
	}
	h.seen[url] = struct{}{}
	h.order = append(h.order, url)
	return true
}

func (h *Handle) matches(url string) bool {
	for _, p := range h.patterns {
		if p.Matches(url) {
			return true
		}
	}
	return false
}

// Captured returns a snapshot of the matching URLs in first-seen order.
func (h *Handle) Captured() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Len returns the number of distinct captured URLs.
func (h *Handle) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

// Done is closed once the underlying event stream has ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// WaitSettled blocks until no new matching URL has been captured for quiet,
// until ceiling elapses (zero disables the ceiling), or until the event
// stream ends. It returns ctx's error if ctx is cancelled first.
func (h *Handle) WaitSettled(ctx context.Context, quiet, ceiling time.Duration) (SettleReason, error) {
	if quiet <= 0 {
		return Quiet, ctx.Err()
	}

	quietTimer := time.NewTimer(quiet)
	defer quietTimer.Stop()

	var ceilingC <-chan time.Time
	if ceiling > 0 {
		ceilingTimer := time.NewTimer(ceiling)
		defer ceilingTimer.Stop()
		ceilingC = ceilingTimer.C
	}

	done := h.done
	for {
		select {
		case <-ctx.Done():
			return Quiet, ctx.Err()
		case <-h.activity:
			quietTimer.Reset(quiet)
		case <-quietTimer.C:
			return Quiet, nil
		case <-ceilingC:
			return Ceiling, nil
		case <-done:
			return StreamClosed, nil
		}
	}
}
