package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homedrive/backend/internal/storage/errs"
	"github.com/homedrive/backend/internal/storage/vpath"
)

// UploadEntry is one incoming file: a root-relative path under the upload
// parent (slashes preserve folder structure) and its byte stream.
type UploadEntry struct {
	RelPath string
	Reader  io.Reader
}

// UploadOutcome reports where one entry landed, or why it did not.
type UploadOutcome struct {
	RelPath string `json:"rel_path"`
	Path    string `json:"path,omitempty"`
	Size    int64  `json:"size,omitempty"`
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
}

// Upload streams each entry to a temporary file in its destination directory
// and atomically renames it into place, so a reader never observes a
// partially written file under its final name. Missing intermediate folders
// are created; name collisions get a numeric suffix. Failures are per-entry.
func (e *Engine) Upload(ctx context.Context, parent string, entries []UploadEntry) ([]UploadOutcome, error) {
	if _, err := e.paths.ResolveDestination(parent); err != nil {
		return nil, err
	}

	outcomes := make([]UploadOutcome, 0, len(entries))
	failed := false
	for _, entry := range entries {
		outcome := e.uploadOne(ctx, parent, entry)
		if !outcome.OK {
			failed = true
		}
		outcomes = append(outcomes, outcome)
	}
	if failed {
		results := make([]errs.ItemResult, len(outcomes))
		for i, o := range outcomes {
			results[i] = errs.ItemResult{Path: o.RelPath, OK: o.OK, Detail: o.Detail}
		}
		return outcomes, &errs.Partial{Results: results}
	}
	return outcomes, nil
}

func (e *Engine) uploadOne(ctx context.Context, parent string, entry UploadEntry) UploadOutcome {
	outcome := UploadOutcome{RelPath: entry.RelPath}

	rel := strings.ReplaceAll(entry.RelPath, "\\", "/")
	name := path.Base(rel)
	if err := vpath.ValidateName(name); err != nil {
		outcome.Detail = errs.Sanitize(err)
		return outcome
	}

	relDir := path.Dir(rel)
	target := path.Join(parent, rel)
	dirAbs, err := e.paths.ResolveDestination(path.Dir(target))
	if err != nil {
		outcome.Detail = errs.Sanitize(err)
		return outcome
	}
	if relDir != "." && relDir != "" {
		if err := os.MkdirAll(dirAbs, 0o755); err != nil {
			outcome.Detail = errs.Sanitize(errs.IO("upload", err))
			return outcome
		}
	} else if _, statErr := os.Stat(dirAbs); statErr != nil {
		outcome.Detail = errs.Sanitize(errs.ErrNotFound)
		return outcome
	}

	// Stream to a temp sibling first; no lock is held during the transfer,
	// only around the final rename.
	tmp := filepath.Join(dirAbs, fmt.Sprintf(".%s.%s.tmp", name, uuid.NewString()))
	written, err := writeStream(ctx, tmp, entry.Reader)
	if err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil && !os.IsNotExist(rmErr) {
			e.log.Warn("failed to clean up temp file", zap.String("path", tmp), zap.Error(rmErr))
		}
		outcome.Detail = errs.Sanitize(err)
		return outcome
	}

	guard, err := e.locks.Acquire(ctx, dirAbs)
	if err != nil {
		os.Remove(tmp)
		outcome.Detail = errs.Sanitize(err)
		return outcome
	}
	defer guard.Release()

	final := filepath.Join(dirAbs, uniqueName(dirAbs, name))
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		outcome.Detail = errs.Sanitize(errs.IO("upload", err))
		return outcome
	}

	outcome.OK = true
	outcome.Path = e.paths.Relative(final)
	outcome.Size = written
	e.log.Info("uploaded file", zap.String("path", outcome.Path), zap.Int64("size", written))
	e.notify("upload", outcome.Path, map[string]interface{}{"size": written})
	return outcome
}

func writeStream(ctx context.Context, tmp string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, errs.IO("upload", err)
	}

	var written int64
	buf := make([]byte, copyChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			f.Close()
			return written, errs.IO("upload", err)
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				f.Close()
				return written, errs.IO("upload", writeErr)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			return written, errs.IO("upload", readErr)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return written, errs.IO("upload", err)
	}
	if err := f.Close(); err != nil {
		return written, errs.IO("upload", err)
	}
	return written, nil
}
