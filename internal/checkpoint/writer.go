// Package checkpoint persists link lists and crawl results as JSON files so a
// later run can pick up where an earlier stage stopped.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrMissing is wrapped by reads of a checkpoint file that does not exist.
var ErrMissing = errors.New("checkpoint not found")

// ReadLinks loads a link checkpoint.
func ReadLinks(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, fmt.Errorf("read link checkpoint: %w", err)
	}

	var links []string
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, fmt.Errorf("decode link checkpoint %s: %w", path, err)
	}
	return links, nil
}

// WriteLinks stores links in order.
func WriteLinks(path string, links []string) error {
	if links == nil {
		links = []string{}
	}
	return writeJSON(path, links)
}

// writeJSON encodes v with two-space indentation into a temp file next to
// path and renames it into place, so readers never observe a partial file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	return os.Rename(tmpName, path)
}

// PageSlug names the per-page folder: the URL path with its slashes removed
// and filesystem-unsafe characters replaced. The site root maps to "index".
func PageSlug(pageURL string) string {
	path := pageURL
	if u, err := url.Parse(pageURL); err == nil {
		path = u.Path
	}
	path = strings.ReplaceAll(path, "/", "")

	unsafe := []string{"\\", ":", "*", "?", "\"", "<", ">", "|", " "}
	for _, char := range unsafe {
		path = strings.ReplaceAll(path, char, "_")
	}
	if path == "" || path == "." || path == ".." {
		return "index"
	}
	return path
}
