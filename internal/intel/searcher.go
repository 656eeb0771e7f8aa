package intel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fathomhq/fathom/internal/plugin"
)

// Searcher defaults.
const (
	defaultMaxResults  = 20
	maxScanBytes       = 256 * 1024
	maxSnippetLen      = 160
	contentMatchWeight = 0.5
)

// FSSearcher implements plugin.Searcher over a directory tree with a
// case-insensitive substring match on names and text content. It is the
// local fallback searcher; a real index can replace it behind the same
// interface.
type FSSearcher struct {
	root       string
	maxResults int
}

// NewFSSearcher creates a searcher rooted at dir.
func NewFSSearcher(root string) *FSSearcher {
	return &FSSearcher{root: root, maxResults: defaultMaxResults}
}

// SearchFiles walks the root and scores matches. Name matches outrank
// content matches; results come back highest score first.
func (s *FSSearcher) SearchFiles(ctx context.Context, query string) ([]plugin.SearchHit, error) {
	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}

	var hits []plugin.SearchHit
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}

		if hit, ok := s.match(path, d.Name(), query); ok {
			hits = append(hits, hit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > s.maxResults {
		hits = hits[:s.maxResults]
	}
	return hits, nil
}

func (s *FSSearcher) match(path, name, query string) (plugin.SearchHit, bool) {
	lower := strings.ToLower(name)
	if strings.Contains(lower, query) {
		score := float64(len(query)) / float64(len(lower))
		if score > 1 {
			score = 1
		}
		return plugin.SearchHit{Path: path, Score: 0.5 + score/2, Snippet: name}, true
	}

	if snippet, ok := contentMatch(path, query); ok {
		return plugin.SearchHit{Path: path, Score: contentMatchWeight, Snippet: snippet}, true
	}
	return plugin.SearchHit{}, false
}

// contentMatch scans the head of text-like files for the query and
// returns the matching line.
func contentMatch(path, query string) (string, bool) {
	switch categorize(path) {
	case "document", "code", "data":
	default:
		return "", false
	}

	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(&io.LimitedReader{R: f, N: maxScanBytes})
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(strings.ToLower(line), query) {
			line = strings.TrimSpace(line)
			if len(line) > maxSnippetLen {
				line = line[:maxSnippetLen]
			}
			return line, true
		}
	}
	return "", false
}
