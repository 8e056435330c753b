// Package engine implements atomic file operations over the storage root:
// create, rename, move, delete, upload, and download. All mutating
// operations validate paths first, then take path locks, then touch disk.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/homedrive/backend/internal/infrastructure/logging"
	"github.com/homedrive/backend/internal/storage/errs"
	"github.com/homedrive/backend/internal/storage/lock"
	"github.com/homedrive/backend/internal/storage/vpath"
)

const copyChunkSize = 64 * 1024

// Item is a read-only projection of a filesystem entry at observation time.
type Item struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	IsFolder bool      `json:"is_folder"`
	Size     int64     `json:"size,omitempty"`
	Modified time.Time `json:"modified,omitempty"`
}

// Listing holds the ordered contents of one folder.
type Listing struct {
	Folders []Item `json:"folders"`
	Files   []Item `json:"files"`
}

// Trasher soft-deletes an item. Implemented by the trash manager; wired after
// construction to keep the dependency direction engine -> trash out of the
// constructor.
type Trasher interface {
	SoftDelete(ctx context.Context, virtualPath string) (string, error)
}

// Notifier receives operation progress events. The WebSocket hub implements
// it; a nil notifier disables events.
type Notifier interface {
	Notify(kind, path string, data map[string]interface{})
}

// Engine performs all disk mutations under the storage root.
type Engine struct {
	paths    *vpath.Validator
	locks    *lock.Manager
	log      *logging.Logger
	trash    Trasher
	notifier Notifier
	thumbs   *thumbCache
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier attaches a progress event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithThumbnailCache bounds the in-memory thumbnail cache in bytes.
func WithThumbnailCache(maxBytes int64) Option {
	return func(e *Engine) { e.thumbs = newThumbCache(maxBytes) }
}

// New creates an engine over the given validator and lock manager.
func New(paths *vpath.Validator, locks *lock.Manager, log *logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		paths:  paths,
		locks:  locks,
		log:    log,
		thumbs: newThumbCache(defaultThumbCacheBytes),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetTrash wires the soft-delete implementation.
func (e *Engine) SetTrash(t Trasher) { e.trash = t }

// Paths exposes the validator for components layered on the engine.
func (e *Engine) Paths() *vpath.Validator { return e.paths }

// Locks exposes the lock manager for components layered on the engine.
func (e *Engine) Locks() *lock.Manager { return e.locks }

// Notify publishes a progress event to the attached notifier, if any.
// Components layered on the engine use it for their own event kinds.
func (e *Engine) Notify(kind, path string, data map[string]interface{}) {
	if e.notifier != nil {
		e.notifier.Notify(kind, path, data)
	}
}

func (e *Engine) notify(kind, path string, data map[string]interface{}) {
	e.Notify(kind, path, data)
}

// List returns the folders and files directly under virtualPath, each group
// sorted case-insensitively by name. The trash directory is hidden from root
// listings. Read-only: takes no locks.
func (e *Engine) List(virtualPath string) (*Listing, error) {
	abs, err := e.paths.Resolve(virtualPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.IO("list", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a folder: %w", virtualPath, errs.ErrNotFound)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, errs.IO("list", err)
	}

	listing := &Listing{Folders: []Item{}, Files: []Item{}}
	for _, entry := range entries {
		child := filepath.Join(abs, entry.Name())
		if e.paths.IsTrash(child) {
			continue
		}
		item := Item{
			Name: entry.Name(),
			Path: e.paths.Relative(child),
		}
		if entry.IsDir() {
			item.IsFolder = true
			listing.Folders = append(listing.Folders, item)
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			// Entry vanished between readdir and stat.
			continue
		}
		item.Size = fi.Size()
		item.Modified = fi.ModTime()
		listing.Files = append(listing.Files, item)
	}

	sortItems(listing.Folders)
	sortItems(listing.Files)
	return listing, nil
}

// ListFolders returns every folder in the tree (excluding trash), depth-first,
// for destination pickers.
func (e *Engine) ListFolders() ([]Item, error) {
	var folders []Item
	var walk func(virtualPath string) error
	walk = func(virtualPath string) error {
		listing, err := e.List(virtualPath)
		if err != nil {
			return err
		}
		for _, f := range listing.Folders {
			folders = append(folders, f)
			if err := walk(f.Path); err != nil {
				// Folder vanished mid-walk; keep going.
				continue
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return folders, nil
}

// CreateFolder creates parent/name. Fails with Conflict if any entry already
// exists there.
func (e *Engine) CreateFolder(ctx context.Context, parent, name string) (*Item, error) {
	if err := vpath.ValidateName(name); err != nil {
		return nil, err
	}
	parentAbs, err := e.paths.ResolveDestination(parent)
	if err != nil {
		return nil, err
	}
	abs := filepath.Join(parentAbs, name)
	if e.paths.IsTrash(abs) {
		return nil, errs.ErrForbidden
	}

	guard, err := e.locks.Acquire(ctx, abs)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	if _, err := os.Lstat(abs); err == nil {
		return nil, errs.ErrConflict
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errs.IO("create folder", err)
	}

	e.log.Info("created folder", zap.String("path", e.paths.Relative(abs)))
	return &Item{Name: name, Path: e.paths.Relative(abs), IsFolder: true}, nil
}

// Rename renames an item in place with a single atomic rename. Renaming to
// the current name is a no-op success.
func (e *Engine) Rename(ctx context.Context, virtualPath, newName string) (*Item, error) {
	if err := vpath.ValidateName(newName); err != nil {
		return nil, err
	}
	abs, err := e.paths.ResolveDestination(virtualPath)
	if err != nil {
		return nil, err
	}
	if abs == e.paths.Root() {
		return nil, errs.ErrForbidden
	}
	dest := filepath.Join(filepath.Dir(abs), newName)
	if e.paths.IsTrash(dest) {
		return nil, errs.ErrForbidden
	}

	guard, err := e.locks.Acquire(ctx, abs, dest)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.IO("rename", err)
	}
	if dest != abs {
		if _, err := os.Lstat(dest); err == nil {
			return nil, errs.ErrConflict
		}
		if err := os.Rename(abs, dest); err != nil {
			return nil, errs.IO("rename", err)
		}
	}

	e.log.Info("renamed item",
		zap.String("from", e.paths.Relative(abs)),
		zap.String("to", e.paths.Relative(dest)),
	)
	return &Item{Name: newName, Path: e.paths.Relative(dest), IsFolder: info.IsDir()}, nil
}

// Move relocates an item into destFolder, preferring an atomic rename and
// falling back to copy-then-delete across filesystems. Moving a folder into
// itself or a descendant is rejected before any disk access.
func (e *Engine) Move(ctx context.Context, source, destFolder string) (*Item, error) {
	srcAbs, err := e.paths.ResolveDestination(source)
	if err != nil {
		return nil, err
	}
	if srcAbs == e.paths.Root() {
		return nil, errs.ErrForbidden
	}
	dstDirAbs, err := e.paths.ResolveDestination(destFolder)
	if err != nil {
		return nil, err
	}
	if dstDirAbs == srcAbs || strings.HasPrefix(dstDirAbs, srcAbs+string(filepath.Separator)) {
		return nil, fmt.Errorf("cannot move a folder into itself: %w", errs.ErrConflict)
	}

	name := filepath.Base(srcAbs)
	dstAbs := filepath.Join(dstDirAbs, name)

	guard, err := e.locks.Acquire(ctx, srcAbs, filepath.Dir(srcAbs), dstDirAbs, dstAbs)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	srcInfo, err := os.Lstat(srcAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.IO("move", err)
	}
	dirInfo, err := os.Stat(dstDirAbs)
	if err != nil || !dirInfo.IsDir() {
		return nil, fmt.Errorf("destination folder does not exist: %w", errs.ErrNotFound)
	}
	if _, err := os.Lstat(dstAbs); err == nil {
		return nil, errs.ErrConflict
	}

	if err := e.moveAcrossDevices(srcAbs, dstAbs); err != nil {
		return nil, err
	}

	e.log.Info("moved item",
		zap.String("from", e.paths.Relative(srcAbs)),
		zap.String("to", e.paths.Relative(dstAbs)),
	)
	e.notify("move", e.paths.Relative(dstAbs), nil)
	return &Item{Name: name, Path: e.paths.Relative(dstAbs), IsFolder: srcInfo.IsDir()}, nil
}

// MoveMultiple moves each source independently; one item's failure neither
// blocks nor undoes the others. Returns per-item outcomes and a Partial error
// when any item failed.
func (e *Engine) MoveMultiple(ctx context.Context, sources []string, destFolder string) ([]errs.ItemResult, error) {
	results := make([]errs.ItemResult, 0, len(sources))
	failed := false
	for _, src := range sources {
		r := errs.ItemResult{Path: src, OK: true}
		if _, err := e.Move(ctx, src, destFolder); err != nil {
			r.OK = false
			r.Detail = errs.Sanitize(err)
			failed = true
		}
		results = append(results, r)
	}
	if failed {
		return results, &errs.Partial{Results: results}
	}
	return results, nil
}

// Delete soft-deletes via the trash manager; items already inside the trash
// are permanently removed instead.
func (e *Engine) Delete(ctx context.Context, virtualPath string) error {
	abs, err := e.paths.Resolve(virtualPath)
	if err != nil {
		return err
	}
	if abs == e.paths.Root() {
		return errs.ErrForbidden
	}

	if e.paths.IsTrash(abs) {
		return e.Remove(ctx, abs)
	}
	if e.trash == nil {
		return errs.IO("delete", errors.New("trash manager not configured"))
	}
	_, err = e.trash.SoftDelete(ctx, virtualPath)
	return err
}

// DeleteMultiple deletes each path independently, reporting per-item results.
func (e *Engine) DeleteMultiple(ctx context.Context, paths []string) ([]errs.ItemResult, error) {
	results := make([]errs.ItemResult, 0, len(paths))
	failed := false
	for _, p := range paths {
		r := errs.ItemResult{Path: p, OK: true}
		if err := e.Delete(ctx, p); err != nil {
			r.OK = false
			r.Detail = errs.Sanitize(err)
			failed = true
		}
		results = append(results, r)
	}
	if failed {
		return results, &errs.Partial{Results: results}
	}
	return results, nil
}

// Remove permanently deletes the entry at the canonical absolute path.
func (e *Engine) Remove(ctx context.Context, abs string) error {
	guard, err := e.locks.Acquire(ctx, abs)
	if err != nil {
		return err
	}
	defer guard.Release()

	if _, err := os.Lstat(abs); err != nil {
		if os.IsNotExist(err) {
			return errs.ErrNotFound
		}
		return errs.IO("remove", err)
	}
	if err := os.RemoveAll(abs); err != nil {
		return errs.IO("remove", err)
	}
	e.log.Info("permanently removed item", zap.String("path", e.paths.Relative(abs)))
	return nil
}

// moveAcrossDevices renames src to dst, falling back to copy-then-delete when
// the rename fails with EXDEV. The fallback is all-or-nothing: any failure
// removes the partial copy and leaves the source untouched.
func (e *Engine) moveAcrossDevices(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return errs.IO("move", err)
	}

	e.log.Debug("cross-device move, copying", zap.String("dst", dst))
	if copyErr := copyTree(src, dst); copyErr != nil {
		if rmErr := os.RemoveAll(dst); rmErr != nil {
			e.log.Warn("failed to remove partial copy", zap.String("path", dst), zap.Error(rmErr))
		}
		return errs.IO("move", copyErr)
	}
	if err := os.RemoveAll(src); err != nil {
		return errs.IO("move", err)
	}
	return nil
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Err == syscall.EXDEV
	}
	return errors.Is(err, syscall.EXDEV)
}

func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	switch {
	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	default:
		return copyFile(src, dst, info.Mode().Perm())
	}
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	buf := make([]byte, copyChunkSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
}

// uniqueName returns name, or name with a "_N" suffix inserted before the
// extension, such that dir/name does not exist.
func uniqueName(dir, name string) string {
	candidate := name
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for counter := 1; ; counter++ {
		if _, err := os.Lstat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", base, counter, ext)
	}
}
