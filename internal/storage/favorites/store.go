// Package favorites persists a small set of bookmarked folder paths in a
// TOML side store outside the browsable tree. Favorites are metadata, not
// filesystem state, so mutations serialize on their own lock rather than the
// engine's path locks.
package favorites

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/homedrive/backend/internal/infrastructure/logging"
	"github.com/homedrive/backend/internal/storage/errs"
	"github.com/homedrive/backend/internal/storage/vpath"
)

// Entry is one bookmarked folder.
type Entry struct {
	Path        string    `toml:"path" json:"path"`
	DisplayName string    `toml:"display_name" json:"display_name"`
	CreatedAt   time.Time `toml:"created_at" json:"created_at"`
}

type document struct {
	Favorites []Entry `toml:"favorite"`
}

// Store reads and writes the favorites file.
type Store struct {
	paths *vpath.Validator
	file  string
	log   *logging.Logger
	mu    sync.Mutex
}

// New creates a store persisting to file.
func New(paths *vpath.Validator, file string, log *logging.Logger) *Store {
	return &Store{paths: paths, file: file, log: log}
}

// List returns favorites whose target folder still exists. Stale entries are
// dropped lazily here and never re-created.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	valid := entries[:0]
	for _, e := range entries {
		abs, err := s.paths.Resolve(e.Path)
		if err != nil {
			continue
		}
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			valid = append(valid, e)
		}
	}
	if len(valid) != len(entries) {
		if err := s.save(valid); err != nil {
			s.log.Warn("failed to drop stale favorites", zap.Error(err))
		}
	}
	out := make([]Entry, len(valid))
	copy(out, valid)
	return out, nil
}

// Toggle adds the folder if absent and removes it if present, returning
// whether it is now favorited. The target must currently be a folder.
func (s *Store) Toggle(virtualPath string) (bool, error) {
	abs, err := s.paths.ResolveDestination(virtualPath)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return false, errs.ErrNotFound
	}
	canonical := s.paths.Relative(abs)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	for i, e := range entries {
		if e.Path == canonical {
			entries = append(entries[:i], entries[i+1:]...)
			if err := s.save(entries); err != nil {
				return false, err
			}
			s.log.Info("removed favorite", zap.String("path", canonical))
			return false, nil
		}
	}

	name := filepath.Base(abs)
	if canonical == "" {
		name = "Home"
	}
	entries = append(entries, Entry{Path: canonical, DisplayName: name, CreatedAt: time.Now().UTC()})
	if err := s.save(entries); err != nil {
		return false, err
	}
	s.log.Info("added favorite", zap.String("path", canonical))
	return true, nil
}

func (s *Store) load() []Entry {
	data, err := os.ReadFile(s.file)
	if err != nil {
		return nil
	}
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		s.log.Warn("corrupt favorites file, starting fresh", zap.Error(err))
		return nil
	}
	return doc.Favorites
}

func (s *Store) save(entries []Entry) error {
	data, err := toml.Marshal(document{Favorites: entries})
	if err != nil {
		return errs.IO("favorites", err)
	}
	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.IO("favorites", err)
	}
	if err := os.Rename(tmp, s.file); err != nil {
		return errs.IO("favorites", err)
	}
	return nil
}
