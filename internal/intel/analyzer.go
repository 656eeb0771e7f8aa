package intel

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/fathomhq/fathom/internal/plugin"
)

// Analyzer defaults.
const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 5 * time.Minute

	maxSummaryLen = 200
)

// importantKeywords raise a file's importance when they appear in its
// name.
var importantKeywords = []string{"urgent", "important", "final", "invoice", "contract", "report", "todo"}

// categoryByExt maps file extensions to coarse categories.
var categoryByExt = map[string]string{
	".md":   "document",
	".txt":  "document",
	".doc":  "document",
	".docx": "document",
	".pdf":  "document",
	".go":   "code",
	".py":   "code",
	".js":   "code",
	".ts":   "code",
	".lua":  "code",
	".rs":   "code",
	".png":  "image",
	".jpg":  "image",
	".jpeg": "image",
	".gif":  "image",
	".svg":  "image",
	".zip":  "archive",
	".tar":  "archive",
	".gz":   "archive",
	".csv":  "data",
	".json": "data",
	".yaml": "data",
	".yml":  "data",
	".xml":  "data",
}

// FileAnalyzer implements plugin.Analyzer with a keyword and metadata
// heuristic. Results are cached by path and modification time, so an
// unchanged file is scored once per TTL no matter how many plugins ask.
type FileAnalyzer struct {
	cache *lru.LRU[string, plugin.Analysis]
}

// NewFileAnalyzer creates an analyzer with the default cache.
func NewFileAnalyzer() *FileAnalyzer {
	return &FileAnalyzer{
		cache: lru.NewLRU[string, plugin.Analysis](defaultCacheSize, nil, defaultCacheTTL),
	}
}

// AnalyzeFile scores one file.
func (a *FileAnalyzer) AnalyzeFile(ctx context.Context, path string) (plugin.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return plugin.Analysis{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return plugin.Analysis{}, fmt.Errorf("cannot analyze %s: %w", path, err)
	}
	if info.IsDir() {
		return plugin.Analysis{}, fmt.Errorf("cannot analyze %s: is a directory", path)
	}

	key := fmt.Sprintf("%s|%d", path, info.ModTime().UnixNano())
	if cached, ok := a.cache.Get(key); ok {
		return cached, nil
	}

	analysis := plugin.Analysis{
		Path:       path,
		Category:   categorize(path),
		Importance: score(path, info),
		Summary:    summarize(path),
	}
	a.cache.Add(key, analysis)
	return analysis, nil
}

func categorize(path string) string {
	if c, ok := categoryByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return c
	}
	return "other"
}

// score combines name keywords, recency and category into [0, 1].
func score(path string, info os.FileInfo) float64 {
	s := 0.2
	name := strings.ToLower(filepath.Base(path))

	for _, kw := range importantKeywords {
		if strings.Contains(name, kw) {
			s += 0.4
			break
		}
	}

	age := time.Since(info.ModTime())
	switch {
	case age < 24*time.Hour:
		s += 0.3
	case age < 7*24*time.Hour:
		s += 0.2
	case age < 30*24*time.Hour:
		s += 0.1
	}

	if categorize(path) == "document" {
		s += 0.1
	}

	if s > 1 {
		s = 1
	}
	return s
}

// summarize returns the first non-empty line of a text-like file, or "".
func summarize(path string) string {
	switch categorize(path) {
	case "document", "code", "data":
	default:
		return ""
	}

	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(line) > maxSummaryLen {
			line = line[:maxSummaryLen]
		}
		return line
	}
	return ""
}
