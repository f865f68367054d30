package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/travelcrawl/internal/types"
)

// ResultWriter accumulates crawl results and rewrites the result checkpoint
// after every append. Appends are serialized, so concurrent visits may share
// one writer.
type ResultWriter struct {
	path   string
	logger *log.Logger

	mu      sync.Mutex
	results []types.CrawlResult
}

// NewResultWriter creates a writer for path. Nothing is written until the
// first Append or Flush.
func NewResultWriter(path string, logger *log.Logger) *ResultWriter {
	if logger == nil {
		logger = log.Default()
	}
	return &ResultWriter{path: path, logger: logger}
}

// Path returns the checkpoint location.
func (w *ResultWriter) Path() string { return w.path }

// Append records r and persists the full result list.
func (w *ResultWriter) Append(r types.CrawlResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.results = append(w.results, r)
	if err := writeJSON(w.path, w.results); err != nil {
		// A result that never reached disk must not reappear on the next write.
		w.results = w.results[:len(w.results)-1]
		return fmt.Errorf("persist results: %w", err)
	}
	w.logger.Debug("result checkpoint updated", "path", w.path, "results", len(w.results))
	return nil
}

// Flush writes the current list, producing an empty array when no target
// succeeded.
func (w *ResultWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	results := w.results
	if results == nil {
		results = []types.CrawlResult{}
	}
	return writeJSON(w.path, results)
}

// Len returns the number of persisted results.
func (w *ResultWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.results)
}

// ReadResults loads a result checkpoint. The crawler never reads results
// back; this exists for inspection and tests.
func ReadResults(path string) ([]types.CrawlResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, err
	}
	var results []types.CrawlResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode result checkpoint %s: %w", path, err)
	}
	return results, nil
}

// PageWriter stores each page's own extracted record as
// <dir>/<page slug>/data.json.
type PageWriter struct {
	dir string
}

// NewPageWriter creates a PageWriter rooted at dir.
func NewPageWriter(dir string) *PageWriter {
	return &PageWriter{dir: dir}
}

// Dir returns the folder a page's files belong in.
func (p *PageWriter) Dir(pageURL string) string {
	return filepath.Join(p.dir, PageSlug(pageURL))
}

// Write persists the extracted record of pageURL and returns the file path.
func (p *PageWriter) Write(pageURL string, record types.Record) (string, error) {
	path := filepath.Join(p.Dir(pageURL), "data.json")
	if err := writeJSON(path, record); err != nil {
		return "", err
	}
	return path, nil
}
