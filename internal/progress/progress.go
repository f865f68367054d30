// Package progress renders crawl progress on the terminal: a spinner for the
// pages being visited and a progress bar line per finished visit.
package progress

import (
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/bubbles/progress"

	"github.com/go-scripts/travelcrawl/internal/types"
)

const maxURLLen = 48

// Tracker follows the visits of a crawl. It implements crawler.Observer.
type Tracker struct {
	out  io.Writer
	bar  progress.Model
	spin *spinner.Spinner

	mu     sync.Mutex
	stage  string
	total  int
	done   int
	active []string
}

// New creates a Tracker writing to out.
func New(out io.Writer) *Tracker {
	return &Tracker{
		out:  out,
		bar:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		spin: spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(out)),
	}
}

// StageStarted resets the counters for a new stage.
func (t *Tracker) StageStarted(stage string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = stage
	t.total = total
	t.done = 0
	t.active = t.active[:0]
}

// VisitStarted shows the target on the spinner.
func (t *Tracker) VisitStarted(target types.CrawlTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = append(t.active, target.URL)
	t.refreshSpinner()
	t.spin.Start()
}

// VisitFinished advances the bar.
func (t *Tracker) VisitFinished(target types.CrawlTarget, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, u := range t.active {
		if u == target.URL {
			t.active = append(t.active[:i], t.active[i+1:]...)
			break
		}
	}
	t.done++
	status := "ok"
	if err != nil {
		status = "FAILED"
	}

	// The spinner owns the current line; stop it while the bar is printed.
	t.spin.Stop()
	fmt.Fprintf(t.out, "%-8s %s %d/%d %s %s\n",
		t.stage, t.bar.ViewAs(t.fraction()), t.done, t.total, status, FormatURL(target.URL))
	if len(t.active) > 0 {
		t.refreshSpinner()
		t.spin.Start()
	}
}

func (t *Tracker) fraction() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.done) / float64(t.total)
}

func (t *Tracker) refreshSpinner() {
	if len(t.active) == 0 {
		return
	}
	suffix := fmt.Sprintf(" [%s] %s", t.stage, FormatURL(t.active[len(t.active)-1]))
	if n := len(t.active); n > 1 {
		suffix += fmt.Sprintf(" (+%d)", n-1)
	}
	t.spin.Lock()
	t.spin.Suffix = suffix
	t.spin.Unlock()
}

// FormatURL shortens long URLs to host plus the tail of the path.
func FormatURL(raw string) string {
	if len(raw) <= maxURLLen {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "..." + raw[len(raw)-maxURLLen:]
	}
	keep := maxURLLen - len(u.Host) - 3
	p := u.Path
	if keep > 0 && len(p) > keep {
		p = "..." + p[len(p)-keep:]
	}
	return u.Host + p
}
