// Package search matches files and folders against glob patterns.
package search

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"

	"github.com/homedrive/backend/internal/storage/engine"
	"github.com/homedrive/backend/internal/storage/errs"
	"github.com/homedrive/backend/internal/storage/vpath"
)

// DefaultLimit caps search results.
const DefaultLimit = 500

// Searcher walks the tree (excluding trash) matching doublestar patterns
// against root-relative slash paths. Read-only: no locks.
type Searcher struct {
	paths *vpath.Validator
}

// New creates a searcher over the engine's tree.
func New(eng *engine.Engine) *Searcher {
	return &Searcher{paths: eng.Paths()}
}

// Search returns items under folder whose relative path matches pattern.
// A pattern without a path separator or glob meta is treated as a substring
// match on names, case-insensitively.
func (s *Searcher) Search(folder, pattern string, limit int) ([]engine.Item, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	base, err := s.paths.Resolve(folder)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return nil, errs.ErrNotFound
	}

	glob := strings.ContainsAny(pattern, "*?[{") && doublestar.ValidatePattern(pattern)
	needle := strings.ToLower(pattern)

	var mu sync.Mutex
	results := []engine.Item{}

	conf := fastwalk.Config{Follow: false}
	walkErr := fastwalk.Walk(&conf, base, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == base {
			return nil
		}
		if d.IsDir() && s.paths.IsTrash(p) {
			return filepath.SkipDir
		}
		rel := s.paths.Relative(p)

		matched := false
		if glob {
			if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
				matched = true
			} else if ok, err := doublestar.Match(pattern, d.Name()); err == nil && ok {
				matched = true
			}
		} else {
			matched = strings.Contains(strings.ToLower(d.Name()), needle)
		}
		if !matched {
			return nil
		}

		item := engine.Item{Name: d.Name(), Path: rel, IsFolder: d.IsDir()}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				item.Size = info.Size()
				item.Modified = info.ModTime()
			}
		}
		mu.Lock()
		defer mu.Unlock()
		if len(results) >= limit {
			return filepath.SkipAll
		}
		results = append(results, item)
		return nil
	})
	if walkErr != nil {
		return nil, errs.IO("search", walkErr)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
