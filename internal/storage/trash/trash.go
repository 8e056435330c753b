// Package trash implements soft-delete with a fixed retention window.
// Deleted items move into the reserved .trash directory under a name that
// embeds the deletion timestamp, so retention age stays derivable even if the
// manifest is lost.
package trash

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/homedrive/backend/internal/infrastructure/logging"
	"github.com/homedrive/backend/internal/storage/engine"
	"github.com/homedrive/backend/internal/storage/errs"
	"github.com/homedrive/backend/internal/storage/vpath"
)

const (
	// DefaultRetention is how long trashed items survive before the sweep
	// purges them.
	DefaultRetention = 30 * 24 * time.Hour

	manifestName = ".manifest.json"
)

// Entry describes one trashed item.
type Entry struct {
	TrashName      string `json:"trash_name"`
	OriginalParent string `json:"original_parent"`
	OriginalName   string `json:"original_name"`
	DeletedAt      int64  `json:"deleted_at"`
	IsFolder       bool   `json:"is_folder"`
	Size           int64  `json:"size"`
}

// Info summarizes the trash contents.
type Info struct {
	Count     int   `json:"count"`
	TotalSize int64 `json:"total_size"`
}

// EmptyResult reports a best-effort purge.
type EmptyResult struct {
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors"`
}

// Manager owns the .trash subtree.
type Manager struct {
	eng       *engine.Engine
	paths     *vpath.Validator
	log       *logging.Logger
	retention time.Duration

	// now is swapped in tests to age entries artificially.
	now func() time.Time
}

// New creates a trash manager layered on the engine. Zero retention means
// DefaultRetention.
func New(eng *engine.Engine, log *logging.Logger, retention time.Duration) *Manager {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Manager{
		eng:       eng,
		paths:     eng.Paths(),
		log:       log,
		retention: retention,
		now:       time.Now,
	}
}

func (m *Manager) dir() string          { return m.paths.TrashDir() }
func (m *Manager) manifestPath() string { return filepath.Join(m.dir(), manifestName) }

// SoftDelete moves the item at virtualPath into the trash with an atomic
// rename and records its origin in the manifest. Returns the trash name.
func (m *Manager) SoftDelete(ctx context.Context, virtualPath string) (string, error) {
	abs, err := m.paths.Resolve(virtualPath)
	if err != nil {
		return "", err
	}
	if abs == m.paths.Root() || m.paths.IsTrash(abs) {
		return "", errs.ErrForbidden
	}

	guard, err := m.eng.Locks().Acquire(ctx, abs, m.dir())
	if err != nil {
		return "", err
	}
	defer guard.Release()

	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.ErrNotFound
		}
		return "", errs.IO("trash", err)
	}
	if err := os.MkdirAll(m.dir(), 0o700); err != nil {
		return "", errs.IO("trash", err)
	}

	deletedAt := m.now().Unix()
	base := filepath.Base(abs)
	trashName := fmt.Sprintf("%d_%s", deletedAt, base)
	trashPath := filepath.Join(m.dir(), trashName)
	for counter := 1; ; counter++ {
		if _, err := os.Lstat(trashPath); os.IsNotExist(err) {
			break
		}
		trashName = fmt.Sprintf("%d_%d_%s", deletedAt, counter, base)
		trashPath = filepath.Join(m.dir(), trashName)
	}

	if err := os.Rename(abs, trashPath); err != nil {
		return "", errs.IO("trash", err)
	}

	size := info.Size()
	if info.IsDir() {
		if s, err := m.eng.DirSize(trashPath); err == nil {
			size = s
		}
	}
	entry := Entry{
		TrashName:      trashName,
		OriginalParent: path.Dir(m.paths.Relative(abs)),
		OriginalName:   base,
		DeletedAt:      deletedAt,
		IsFolder:       info.IsDir(),
		Size:           size,
	}
	if entry.OriginalParent == "." {
		entry.OriginalParent = ""
	}

	manifest := m.loadManifest()
	manifest = append(manifest, entry)
	if err := m.saveManifest(manifest); err != nil {
		m.log.Warn("failed to update trash manifest", zap.Error(err))
	}

	m.log.Info("moved to trash",
		zap.String("path", virtualPath),
		zap.String("trash_name", trashName),
	)
	return trashName, nil
}

// Restore moves a trash entry back to its original parent, or to the storage
// root when that parent no longer exists. A name collision at the destination
// gets a numeric suffix rather than an overwrite. Returns the restored
// virtual path.
func (m *Manager) Restore(ctx context.Context, trashName string) (string, error) {
	if err := vpath.ValidateName(trashName); err != nil {
		return "", errs.ErrNotFound
	}
	trashPath := filepath.Join(m.dir(), trashName)

	guard, err := m.eng.Locks().Acquire(ctx, trashPath, m.dir())
	if err != nil {
		return "", err
	}
	defer guard.Release()

	if _, err := os.Lstat(trashPath); err != nil {
		if os.IsNotExist(err) {
			m.dropEntry(trashName)
			return "", errs.ErrNotFound
		}
		return "", errs.IO("restore", err)
	}

	entry, ok := m.findEntry(trashName)
	if !ok {
		// Manifest lost; fall back to what the name encodes.
		entry = Entry{TrashName: trashName, OriginalName: strippedName(trashName)}
	}

	destDir := m.paths.Root()
	if entry.OriginalParent != "" {
		if abs, err := m.paths.Resolve(entry.OriginalParent); err == nil {
			if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
				destDir = abs
			}
		}
	}

	name := entry.OriginalName
	if name == "" {
		name = trashName
	}
	dest := filepath.Join(destDir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for counter := 1; ; counter++ {
		if _, err := os.Lstat(dest); os.IsNotExist(err) {
			break
		}
		dest = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}

	if err := os.Rename(trashPath, dest); err != nil {
		return "", errs.IO("restore", err)
	}
	m.dropEntry(trashName)

	restored := m.paths.Relative(dest)
	m.log.Info("restored from trash",
		zap.String("trash_name", trashName),
		zap.String("path", restored),
	)
	return restored, nil
}

// List enumerates trash entries, sweeping expired ones first.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	m.Sweep(ctx)
	entries := m.loadManifest()
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// GetInfo reports entry count and total size, sweeping expired entries first.
func (m *Manager) GetInfo(ctx context.Context) (*Info, error) {
	entries, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	info := &Info{Count: len(entries)}
	for _, e := range entries {
		info.TotalSize += e.Size
	}
	return info, nil
}

// Sweep permanently deletes entries older than the retention window. Age is
// derived from the timestamp embedded in the trash name, so orphans with no
// manifest record are swept too. Best-effort.
func (m *Manager) Sweep(ctx context.Context) EmptyResult {
	result := EmptyResult{Errors: []string{}}

	guard, err := m.eng.Locks().Acquire(ctx, m.dir())
	if err != nil {
		result.Errors = append(result.Errors, errs.Sanitize(err))
		return result
	}
	defer guard.Release()

	entries, err := os.ReadDir(m.dir())
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, errs.Sanitize(errs.IO("sweep", err)))
		}
		return result
	}

	cutoff := m.now().Add(-m.retention).Unix()
	kept := make(map[string]struct{})
	for _, entry := range entries {
		name := entry.Name()
		if name == manifestName {
			continue
		}
		ts, ok := parseDeletedAt(name)
		if ok && ts <= cutoff {
			if err := os.RemoveAll(filepath.Join(m.dir(), name)); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", name, errs.Sanitize(errs.IO("sweep", err))))
				kept[name] = struct{}{}
				continue
			}
			result.Deleted++
			m.log.Info("purged expired trash entry", zap.String("trash_name", name))
			continue
		}
		kept[name] = struct{}{}
	}

	// Drop manifest entries whose backing file is gone, whether purged just
	// now or vanished out-of-band.
	manifest := m.loadManifest()
	remaining := manifest[:0]
	for _, e := range manifest {
		if _, ok := kept[e.TrashName]; ok {
			remaining = append(remaining, e)
		}
	}
	if len(remaining) != len(manifest) {
		if err := m.saveManifest(remaining); err != nil {
			m.log.Warn("failed to update trash manifest", zap.Error(err))
		}
	}
	return result
}

// Empty permanently deletes every trash entry, best-effort.
func (m *Manager) Empty(ctx context.Context) (*EmptyResult, error) {
	result := &EmptyResult{Errors: []string{}}

	guard, err := m.eng.Locks().Acquire(ctx, m.dir())
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	entries, err := os.ReadDir(m.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, errs.IO("empty trash", err)
	}
	for _, entry := range entries {
		if entry.Name() == manifestName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.dir(), entry.Name())); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", entry.Name(), errs.Sanitize(errs.IO("empty trash", err))))
			continue
		}
		result.Deleted++
	}
	if err := m.saveManifest([]Entry{}); err != nil {
		m.log.Warn("failed to reset trash manifest", zap.Error(err))
	}

	m.log.Info("emptied trash", zap.Int("deleted", result.Deleted), zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (m *Manager) loadManifest() []Entry {
	data, err := os.ReadFile(m.manifestPath())
	if err != nil {
		return nil
	}
	var entries []Entry
	if err := sonic.Unmarshal(data, &entries); err != nil {
		m.log.Warn("corrupt trash manifest, rebuilding", zap.Error(err))
		return nil
	}
	return entries
}

func (m *Manager) saveManifest(entries []Entry) error {
	if err := os.MkdirAll(m.dir(), 0o700); err != nil {
		return err
	}
	data, err := sonic.Marshal(entries)
	if err != nil {
		return err
	}
	tmp := m.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, m.manifestPath())
}

func (m *Manager) findEntry(trashName string) (Entry, bool) {
	for _, e := range m.loadManifest() {
		if e.TrashName == trashName {
			return e, true
		}
	}
	return Entry{}, false
}

func (m *Manager) dropEntry(trashName string) {
	manifest := m.loadManifest()
	remaining := manifest[:0]
	for _, e := range manifest {
		if e.TrashName != trashName {
			remaining = append(remaining, e)
		}
	}
	if err := m.saveManifest(remaining); err != nil {
		m.log.Warn("failed to update trash manifest", zap.Error(err))
	}
}

// parseDeletedAt extracts the unix timestamp prefix from a trash name.
func parseDeletedAt(trashName string) (int64, bool) {
	idx := strings.IndexByte(trashName, '_')
	if idx <= 0 {
		return 0, false
	}
	ts, err := strconv.ParseInt(trashName[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// strippedName removes the "<ts>_" (and optional "<counter>_") prefix.
func strippedName(trashName string) string {
	rest := trashName
	if idx := strings.IndexByte(rest, '_'); idx > 0 {
		if _, err := strconv.ParseInt(rest[:idx], 10, 64); err == nil {
			rest = rest[idx+1:]
		}
	}
	if idx := strings.IndexByte(rest, '_'); idx > 0 {
		if _, err := strconv.Atoi(rest[:idx]); err == nil {
			rest = rest[idx+1:]
		}
	}
	return rest
}
