package engine

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/flate"
	"go.uber.org/zap"

	"github.com/homedrive/backend/internal/storage/errs"
)

// DefaultZipMaxBytes caps folder downloads at 2 GiB of source data.
const DefaultZipMaxBytes = 2 << 30

// Download opens a file for streaming and sniffs its content type. The caller
// must close the returned file. No lock is held during the transfer.
func (e *Engine) Download(virtualPath string) (*os.File, os.FileInfo, string, error) {
	abs, err := e.paths.Resolve(virtualPath)
	if err != nil {
		return nil, nil, "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, "", errs.ErrNotFound
		}
		return nil, nil, "", errs.IO("download", err)
	}
	if info.IsDir() {
		return nil, nil, "", fmt.Errorf("%s is a folder: %w", virtualPath, errs.ErrConflict)
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(abs); err == nil {
		contentType = mt.String()
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, nil, "", errs.IO("download", err)
	}
	return f, info, contentType, nil
}

// ZipFolder streams a folder as a zip archive entry-by-entry into w, never
// materializing the whole archive. Entry checksums are computed incrementally
// by the zip writer. Folders whose content exceeds maxBytes are refused
// before any bytes are written.
func (e *Engine) ZipFolder(virtualPath string, w io.Writer, maxBytes int64) error {
	abs, err := e.paths.Resolve(virtualPath)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.ErrNotFound
		}
		return errs.IO("zip", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a folder: %w", virtualPath, errs.ErrNotFound)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultZipMaxBytes
	}
	total, err := e.DirSize(abs)
	if err != nil {
		return err
	}
	if total > maxBytes {
		return fmt.Errorf("folder too large to zip (%d bytes, max %d): %w", total, maxBytes, errs.ErrConflict)
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	err = filepath.WalkDir(abs, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Entry vanished or is unreadable; archive the rest.
			e.log.Warn("skipping zip entry", zap.String("path", p), zap.Error(walkErr))
			return nil
		}
		if d.IsDir() || e.paths.IsTrash(p) {
			return nil
		}
		rel, err := filepath.Rel(abs, p)
		if err != nil {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		header, err := zip.FileInfoHeader(fi)
		if err != nil {
			return nil
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate
		entry, err := zw.CreateHeader(header)
		if err != nil {
			return errs.IO("zip", err)
		}
		f, err := os.Open(p)
		if err != nil {
			e.log.Warn("skipping unreadable file", zap.String("path", p), zap.Error(err))
			return nil
		}
		defer f.Close()
		buf := make([]byte, copyChunkSize)
		if _, err := io.CopyBuffer(entry, f, buf); err != nil {
			return errs.IO("zip", err)
		}
		return nil
	})
	if err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return errs.IO("zip", err)
	}

	e.log.Info("streamed folder archive", zap.String("path", virtualPath), zap.Int64("source_bytes", total))
	return nil
}

// DirSize sums file sizes under abs with a parallel walk. Files that vanish
// mid-walk are skipped.
func (e *Engine) DirSize(abs string) (int64, error) {
	var total int64
	var mu sync.Mutex

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, abs, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mu.Lock()
		total += info.Size()
		mu.Unlock()
		return nil
	})
	if err != nil {
		return 0, errs.IO("dir size", err)
	}
	return total, nil
}
