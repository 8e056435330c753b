package engine

import (
	"bytes"
	"container/list"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"strings"
	"sync"

	_ "image/gif"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/homedrive/backend/internal/storage/errs"
)

const (
	// ThumbnailMaxSourceBytes caps how large a source image may be.
	ThumbnailMaxSourceBytes = 50 << 20

	defaultThumbCacheBytes = 32 << 20
	thumbJPEGQuality       = 85
)

// Thumbnail returns a JPEG rendering of the image at virtualPath resized to
// fit within size x size. Renderings are cached keyed by (path, mtime, size),
// so a changed modification time invalidates the cached entry.
func (e *Engine) Thumbnail(virtualPath string, size int) ([]byte, error) {
	if size <= 0 || size > 1024 {
		return nil, fmt.Errorf("invalid thumbnail size %d: %w", size, errs.ErrConflict)
	}
	abs, err := e.paths.Resolve(virtualPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.IO("thumbnail", err)
	}
	if info.IsDir() {
		return nil, errs.ErrNotFound
	}
	if info.Size() > ThumbnailMaxSourceBytes {
		return nil, fmt.Errorf("file too large for thumbnail: %w", errs.ErrConflict)
	}

	key := fmt.Sprintf("%s|%d|%d", abs, info.ModTime().UnixNano(), size)
	if data, ok := e.thumbs.get(key); ok {
		return data, nil
	}

	mt, err := mimetype.DetectFile(abs)
	if err != nil || !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("not an image: %w", errs.ErrConflict)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, errs.IO("thumbnail", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("undecodable image: %w", errs.ErrConflict)
	}

	data, err := renderThumbnail(src, size)
	if err != nil {
		return nil, err
	}
	e.thumbs.put(key, data)
	e.log.Debug("rendered thumbnail", zap.String("path", virtualPath), zap.Int("size", size))
	return data, nil
}

func renderThumbnail(src image.Image, size int) ([]byte, error) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("empty image: %w", errs.ErrConflict)
	}

	// Fit within size x size preserving aspect ratio; never upscale.
	scale := float64(size) / float64(max(w, h))
	if scale > 1 {
		scale = 1
	}
	dw := max(1, int(float64(w)*scale))
	dh := max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbJPEGQuality}); err != nil {
		return nil, errs.IO("thumbnail", err)
	}
	return buf.Bytes(), nil
}

// thumbCache is a byte-bounded LRU of rendered thumbnails. Stale entries age
// out by eviction; a changed mtime simply produces a new key.
type thumbCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	order    *list.List
	entries  map[string]*list.Element
}

type thumbEntry struct {
	key  string
	data []byte
}

func newThumbCache(maxBytes int64) *thumbCache {
	if maxBytes <= 0 {
		maxBytes = defaultThumbCacheBytes
	}
	return &thumbCache{
		maxBytes: maxBytes,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (c *thumbCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*thumbEntry).data, true
}

func (c *thumbCache) put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.curBytes += int64(len(data)) - int64(len(el.Value.(*thumbEntry).data))
		el.Value.(*thumbEntry).data = data
		c.order.MoveToFront(el)
	} else {
		c.entries[key] = c.order.PushFront(&thumbEntry{key: key, data: data})
		c.curBytes += int64(len(data))
	}
	for c.curBytes > c.maxBytes && c.order.Len() > 0 {
		oldest := c.order.Back()
		entry := oldest.Value.(*thumbEntry)
		c.order.Remove(oldest)
		delete(c.entries, entry.key)
		c.curBytes -= int64(len(entry.data))
	}
}
