// Package assets downloads captured asset URLs into a local directory.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of a single fetch.
type Outcome int

const (
	Downloaded Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Downloaded:
		return "downloaded"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ErrNoFileName is returned for URLs whose path has no last segment.
var ErrNoFileName = errors.New("asset url has no file name")

// Store fetches assets idempotently: a file already present under its
// derived name is never downloaded again.
type Store struct {
	client    *http.Client
	userAgent string
	logger    *log.Logger
	locks     keyedMutex
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		if c != nil {
			s.client = c
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every download.
func WithUserAgent(ua string) Option { return func(s *Store) { s.userAgent = ua } }

// WithLogger sets the logger. Nil keeps the default logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		client: &http.Client{Timeout: 60 * time.Second},
		logger: log.Default(),
		locks:  keyedMutex{locks: make(map[string]*refLock)},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// FileName derives the local file name of an asset: the last segment of the
// URL path, query and fragment ignored. Two URLs ending in the same segment
// map to the same file.
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("asset url %q: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("%w: %s", ErrNoFileName, rawURL)
	}
	return name, nil
}

// Fetch downloads rawURL into dir unless the target file already exists.
// Errors are returned alongside Failed and never leave a partial file behind.
func (s *Store) Fetch(ctx context.Context, rawURL, dir string) (Outcome, error) {
	name, err := FileName(rawURL)
	if err != nil {
		return Failed, err
	}
	dest := filepath.Join(dir, name)

	unlock := s.locks.Lock(dest)
	defer unlock()

	if _, err := os.Stat(dest); err == nil {
		return Skipped, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Failed, fmt.Errorf("stat %s: %w", dest, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Failed, fmt.Errorf("create asset directory: %w", err)
	}

	if err := s.download(ctx, rawURL, dir, dest); err != nil {
		return Failed, err
	}
	return Downloaded, nil
}

func (s *Store) download(ctx context.Context, rawURL, dir, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("get %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("rename into %s: %w", dest, err)
	}
	return nil
}

// Report is the outcome of one URL in a batch.
type Report struct {
	URL     string
	Outcome Outcome
	Err     error
}

// FetchAll downloads urls into dir with at most limit concurrent transfers
// and waits for all of them. Failures are logged and reported, never returned.
func (s *Store) FetchAll(ctx context.Context, urls []string, dir string, limit int) []Report {
	reports := make([]Report, len(urls))
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, u := range urls {
		g.Go(func() error {
			outcome, err := s.Fetch(ctx, u, dir)
			reports[i] = Report{URL: u, Outcome: outcome, Err: err}
			switch outcome {
			case Failed:
				s.logger.Warn("asset download failed", "url", u, "err", err)
			case Skipped:
				s.logger.Debug("asset already present", "url", u)
			default:
				s.logger.Debug("asset downloaded", "url", u, "dir", dir)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Tally counts reports per outcome.
func Tally(reports []Report) map[Outcome]int {
	counts := make(map[Outcome]int, 3)
	for _, r := range reports {
		counts[r.Outcome]++
	}
	return counts
}
