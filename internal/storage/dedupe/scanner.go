// Package dedupe finds duplicate files with a two-phase, cost-bounded scan:
// group by exact size first, then hash only the candidate bytes.
package dedupe

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/homedrive/backend/internal/infrastructure/logging"
	"github.com/homedrive/backend/internal/storage/engine"
	"github.com/homedrive/backend/internal/storage/errs"
	"github.com/homedrive/backend/internal/storage/vpath"
)

const (
	hashChunkSize = 64 * 1024

	// Files above this size get a cheap partial hash first; only partial
	// collisions are hashed in full.
	largeFileThreshold = 100 << 20
	partialHashBytes   = 1 << 20
)

// Group is a set of >=2 files sharing identical size and content hash.
// Ephemeral: computed per scan, never persisted.
type Group struct {
	Hash  string   `json:"hash"`
	Size  int64    `json:"size"`
	Paths []string `json:"paths"`
}

// Scanner walks the tree (excluding trash) looking for duplicate content.
// Read-only: it takes no locks and treats files that vanish mid-scan as
// absent from the final grouping.
type Scanner struct {
	eng   *engine.Engine
	paths *vpath.Validator
	log   *logging.Logger
}

// New creates a scanner over the engine's tree.
func New(eng *engine.Engine, log *logging.Logger) *Scanner {
	return &Scanner{eng: eng, paths: eng.Paths(), log: log}
}

type candidate struct {
	virtual string
	abs     string
	size    int64
}

// Scan returns all duplicate groups, ordered by descending wasted bytes.
func (s *Scanner) Scan(ctx context.Context) ([]Group, error) {
	bySize, total, err := s.collectSizes()
	if err != nil {
		return nil, err
	}

	var toHash []candidate
	for _, group := range bySize {
		if len(group) > 1 {
			toHash = append(toHash, group...)
		}
	}
	s.log.Info("duplicate scan candidates",
		zap.Int("files", total),
		zap.Int("to_hash", len(toHash)),
	)

	// Phase 2a: partial hashes bound work on very large files.
	byPartial := make(map[string][]candidate)
	for _, c := range toHash {
		if err := ctx.Err(); err != nil {
			return nil, errs.IO("scan", err)
		}
		h, err := hashFile(c.abs, c.size > largeFileThreshold)
		if err != nil {
			continue // vanished or unreadable mid-scan
		}
		key := fmt.Sprintf("%d|%s", c.size, h)
		byPartial[key] = append(byPartial[key], c)
	}

	// Phase 2b: confirm large-file partial collisions with full hashes.
	confirmed := make(map[string][]candidate)
	for key, group := range byPartial {
		if len(group) < 2 {
			continue
		}
		if group[0].size <= largeFileThreshold {
			confirmed[key] = group
			continue
		}
		for _, c := range group {
			if err := ctx.Err(); err != nil {
				return nil, errs.IO("scan", err)
			}
			h, err := hashFile(c.abs, false)
			if err != nil {
				continue
			}
			full := fmt.Sprintf("%d|%s", c.size, h)
			confirmed[full] = append(confirmed[full], c)
		}
	}

	groups := make([]Group, 0, len(confirmed))
	for key, members := range confirmed {
		if len(members) < 2 {
			continue
		}
		g := Group{Size: members[0].size, Hash: key[len(fmt.Sprintf("%d|", members[0].size)):]}
		for _, m := range members {
			g.Paths = append(g.Paths, m.virtual)
		}
		sort.Strings(g.Paths)
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		wi := groups[i].Size * int64(len(groups[i].Paths)-1)
		wj := groups[j].Size * int64(len(groups[j].Paths)-1)
		if wi != wj {
			return wi > wj
		}
		return groups[i].Hash < groups[j].Hash
	})

	s.log.Info("duplicate scan complete", zap.Int("groups", len(groups)))
	s.eng.Notify("scan", "", map[string]interface{}{"files": total, "groups": len(groups)})
	return groups, nil
}

// Resolve permanently deletes the named duplicate members, best-effort with
// per-item outcomes. Detection itself never deletes.
func (s *Scanner) Resolve(ctx context.Context, virtualPaths []string) ([]errs.ItemResult, error) {
	results := make([]errs.ItemResult, 0, len(virtualPaths))
	failed := false
	for _, vp := range virtualPaths {
		r := errs.ItemResult{Path: vp, OK: true}
		abs, err := s.paths.ResolveDestination(vp)
		if err == nil {
			err = s.eng.Remove(ctx, abs)
		}
		if err != nil {
			r.OK = false
			r.Detail = errs.Sanitize(err)
			failed = true
		} else {
			s.log.Info("deleted duplicate", zap.String("path", vp))
		}
		results = append(results, r)
	}
	if failed {
		return results, &errs.Partial{Results: results}
	}
	return results, nil
}

func (s *Scanner) collectSizes() (map[int64][]candidate, int, error) {
	bySize := make(map[int64][]candidate)
	var mu sync.Mutex
	total := 0

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, s.paths.Root(), func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if s.paths.IsTrash(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		c := candidate{virtual: s.paths.Relative(p), abs: p, size: info.Size()}
		mu.Lock()
		bySize[c.size] = append(bySize[c.size], c)
		total++
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, 0, errs.IO("scan", err)
	}
	return bySize, total, nil
}

// hashFile streams a BLAKE2b-256 of the file in fixed-size chunks. With
// partial set, only the first and last MiB are hashed.
func hashFile(abs string, partial bool) (string, error) {
	f, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}

	if partial {
		if _, err := io.CopyN(h, f, partialHashBytes); err != nil && err != io.EOF {
			return "", err
		}
		if _, err := f.Seek(-partialHashBytes, io.SeekEnd); err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			return "", err
		}
		return "p:" + hex.EncodeToString(h.Sum(nil)), nil
	}

	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
