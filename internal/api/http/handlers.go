// Package http maps the storage operation contract onto HTTP handlers.
package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/homedrive/backend/internal/infrastructure/logging"
	"github.com/homedrive/backend/internal/infrastructure/monitoring"
	"github.com/homedrive/backend/internal/storage/autosort"
	"github.com/homedrive/backend/internal/storage/dedupe"
	"github.com/homedrive/backend/internal/storage/diskuse"
	"github.com/homedrive/backend/internal/storage/engine"
	"github.com/homedrive/backend/internal/storage/errs"
	"github.com/homedrive/backend/internal/storage/favorites"
	"github.com/homedrive/backend/internal/storage/search"
	"github.com/homedrive/backend/internal/storage/trash"
)

// Handlers bundles the storage components behind the HTTP surface.
type Handlers struct {
	log       *logging.Logger
	metrics   *monitoring.Metrics
	engine    *engine.Engine
	trash     *trash.Manager
	scanner   *dedupe.Scanner
	sorter    *autosort.Sorter
	disk      *diskuse.Monitor
	favorites *favorites.Store
	searcher  *search.Searcher

	zipMaxBytes int64
}

// NewHandlers creates the handler set.
func NewHandlers(
	log *logging.Logger,
	metrics *monitoring.Metrics,
	eng *engine.Engine,
	trashMgr *trash.Manager,
	scanner *dedupe.Scanner,
	sorter *autosort.Sorter,
	disk *diskuse.Monitor,
	favs *favorites.Store,
	searcher *search.Searcher,
	zipMaxBytes int64,
) *Handlers {
	return &Handlers{
		log:         log,
		metrics:     metrics,
		engine:      eng,
		trash:       trashMgr,
		scanner:     scanner,
		sorter:      sorter,
		disk:        disk,
		favorites:   favs,
		searcher:    searcher,
		zipMaxBytes: zipMaxBytes,
	}
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// ListFiles returns the contents of one folder.
func (h *Handlers) ListFiles(c *gin.Context) {
	start := time.Now()
	listing, err := h.engine.List(c.Query("path"))
	h.metrics.RecordOp("list", err, time.Since(start))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// ListFolders returns every folder for destination pickers.
func (h *Handlers) ListFolders(c *gin.Context) {
	folders, err := h.engine.ListFolders()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"folders": folders})
}

type createFolderRequest struct {
	Parent string `json:"parent"`
	Name   string `json:"name" binding:"required"`
}

// CreateFolder creates a new folder under a parent.
func (h *Handlers) CreateFolder(c *gin.Context) {
	var req createFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	start := time.Now()
	item, err := h.engine.CreateFolder(c.Request.Context(), req.Parent, req.Name)
	h.metrics.RecordOp("create_folder", err, time.Since(start))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// Upload accepts multipart file uploads. A "relative_paths" form field,
// parallel to "files", preserves folder structure for folder uploads.
func (h *Handlers) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}
	rels := form.Value["relative_paths"]
	parent := c.Query("path")

	entries := make([]engine.UploadEntry, 0, len(files))
	readers := make([]io.Closer, 0, len(files))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()
	for i, header := range files {
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("cannot read %s", header.Filename)})
			return
		}
		readers = append(readers, f)
		rel := header.Filename
		if i < len(rels) && rels[i] != "" {
			rel = rels[i]
		}
		entries = append(entries, engine.UploadEntry{RelPath: rel, Reader: f})
	}

	start := time.Now()
	outcomes, err := h.engine.Upload(c.Request.Context(), parent, entries)
	h.metrics.RecordOp("upload", err, time.Since(start))
	for _, o := range outcomes {
		if o.OK {
			h.metrics.UploadBytes.Add(float64(o.Size))
		}
	}

	var partial *errs.Partial
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"entries": outcomes})
	case errors.As(err, &partial):
		c.JSON(http.StatusMultiStatus, gin.H{"entries": outcomes})
	default:
		h.fail(c, err)
	}
}

// Download streams a file, or a folder as a zip archive.
func (h *Handlers) Download(c *gin.Context) {
	path := c.Query("path")

	if c.Query("format") == "zip" || c.Query("folder") == "true" {
		h.downloadZip(c, path)
		return
	}

	start := time.Now()
	f, info, contentType, err := h.engine.Download(path)
	if errors.Is(err, errs.ErrConflict) {
		// Folder requested through the plain route.
		h.downloadZip(c, path)
		return
	}
	h.metrics.RecordOp("download", err, time.Since(start))
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	c.DataFromReader(http.StatusOK, info.Size(), contentType, f, nil)
}

func (h *Handlers) downloadZip(c *gin.Context, path string) {
	name := "homedrive.zip"
	if path != "" {
		name = fmt.Sprintf("%s.zip", pathBase(path))
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Header("Content-Type", "application/zip")

	start := time.Now()
	err := h.engine.ZipFolder(path, c.Writer, h.zipMaxBytes)
	h.metrics.RecordOp("download_zip", err, time.Since(start))
	if err != nil {
		// Headers may already be out; log and cut the stream.
		h.log.Error("zip download failed", zap.String("path", path), zap.Error(err))
		c.Abort()
	}
}

// Thumbnail returns a cached JPEG rendering of an image.
func (h *Handlers) Thumbnail(c *gin.Context) {
	size := 200
	if s := c.Query("size"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil {
			size = parsed
		}
	}
	start := time.Now()
	data, err := h.engine.Thumbnail(c.Query("path"), size)
	h.metrics.RecordOp("thumbnail", err, time.Since(start))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, "image/jpeg", data)
}

type renameRequest struct {
	Path    string `json:"path" binding:"required"`
	NewName string `json:"new_name" binding:"required"`
}

// Rename renames an item in place.
func (h *Handlers) Rename(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path and new_name required"})
		return
	}
	start := time.Now()
	item, err := h.engine.Rename(c.Request.Context(), req.Path, req.NewName)
	h.metrics.RecordOp("rename", err, time.Since(start))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type moveRequest struct {
	Source      string   `json:"source"`
	Sources     []string `json:"sources"`
	Destination string   `json:"destination"`
}

// Move relocates one item.
func (h *Handlers) Move(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source required"})
		return
	}
	start := time.Now()
	item, err := h.engine.Move(c.Request.Context(), req.Source, req.Destination)
	h.metrics.RecordOp("move", err, time.Since(start))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// MoveMultiple relocates a batch, reporting per-item outcomes.
func (h *Handlers) MoveMultiple(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Sources) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sources required"})
		return
	}
	start := time.Now()
	results, err := h.engine.MoveMultiple(c.Request.Context(), req.Sources, req.Destination)
	h.metrics.RecordOp("move_multiple", err, time.Since(start))
	h.respondBatch(c, results, err)
}

type deleteRequest struct {
	Path  string   `json:"path"`
	Paths []string `json:"paths"`
}

// Delete soft-deletes one or many items.
func (h *Handlers) Delete(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Path == "" && len(req.Paths) == 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path or paths required"})
		return
	}
	paths := req.Paths
	if req.Path != "" {
		paths = append([]string{req.Path}, paths...)
	}
	start := time.Now()
	results, err := h.engine.DeleteMultiple(c.Request.Context(), paths)
	h.metrics.RecordOp("delete", err, time.Since(start))
	h.respondBatch(c, results, err)
}

// Search matches files and folders against a glob or substring pattern.
func (h *Handlers) Search(c *gin.Context) {
	pattern := c.Query("q")
	if pattern == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q required"})
		return
	}
	limit := 0
	if l := c.Query("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	start := time.Now()
	items, err := h.searcher.Search(c.Query("path"), pattern, limit)
	h.metrics.RecordOp("search", err, time.Since(start))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": items})
}

// TrashList enumerates trash entries.
func (h *Handlers) TrashList(c *gin.Context) {
	entries, err := h.trash.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}

// TrashInfo reports entry count and total size.
func (h *Handlers) TrashInfo(c *gin.Context) {
	info, err := h.trash.GetInfo(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.TrashItems.Set(float64(info.Count))
	h.metrics.TrashBytes.Set(float64(info.TotalSize))
	c.JSON(http.StatusOK, info)
}

type restoreRequest struct {
	TrashName string `json:"trash_name" binding:"required"`
}

// TrashRestore restores one trash entry.
func (h *Handlers) TrashRestore(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trash_name required"})
		return
	}
	start := time.Now()
	restored, err := h.trash.Restore(c.Request.Context(), req.TrashName)
	h.metrics.RecordOp("restore", err, time.Since(start))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": restored})
}

// TrashEmpty permanently purges the trash.
func (h *Handlers) TrashEmpty(c *gin.Context) {
	start := time.Now()
	result, err := h.trash.Empty(c.Request.Context())
	h.metrics.RecordOp("empty_trash", err, time.Since(start))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DuplicateScan runs the two-phase duplicate scan.
func (h *Handlers) DuplicateScan(c *gin.Context) {
	start := time.Now()
	groups, err := h.scanner.Scan(c.Request.Context())
	h.metrics.RecordOp("duplicate_scan", err, time.Since(start))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(groups), "groups": groups})
}

type resolveRequest struct {
	Paths []string `json:"paths" binding:"required"`
}

// DuplicateResolve deletes chosen duplicate members.
func (h *Handlers) DuplicateResolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Paths) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "paths required"})
		return
	}
	start := time.Now()
	results, err := h.scanner.Resolve(c.Request.Context(), req.Paths)
	h.metrics.RecordOp("duplicate_resolve", err, time.Since(start))
	h.respondBatch(c, results, err)
}

type sortRequest struct {
	Folder string `json:"folder"`
}

// AutoSort classifies and relocates files by extension.
func (h *Handlers) AutoSort(c *gin.Context) {
	var req sortRequest
	_ = c.ShouldBindJSON(&req)
	start := time.Now()
	result, err := h.sorter.Sort(c.Request.Context(), req.Folder)
	h.metrics.RecordOp("auto_sort", err, time.Since(start))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DiskUsage reports the capacity snapshot for the backing filesystem.
func (h *Handlers) DiskUsage(c *gin.Context) {
	usage, err := h.disk.Get()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

// FavoritesList returns live bookmarked folders.
func (h *Handlers) FavoritesList(c *gin.Context) {
	entries, err := h.favorites.List()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorites": entries})
}

type favoriteRequest struct {
	Path string `json:"path"`
}

// FavoritesToggle flips a folder's bookmark state.
func (h *Handlers) FavoritesToggle(c *gin.Context) {
	var req favoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path required"})
		return
	}
	isFavorited, err := h.favorites.Toggle(req.Path)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_favorited": isFavorited})
}

func (h *Handlers) respondBatch(c *gin.Context, results []errs.ItemResult, err error) {
	var partial *errs.Partial
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"results": results})
	case errors.As(err, &partial):
		c.JSON(http.StatusMultiStatus, gin.H{"results": results})
	default:
		h.fail(c, err)
	}
}

// fail maps taxonomy errors to status codes with sanitized messages.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrPathTraversal), errors.Is(err, errs.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrBusy):
		status = http.StatusTooManyRequests
		h.metrics.LockTimeouts.Inc()
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": errs.Sanitize(err)})
}

func pathBase(p string) string {
	base := p
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			base = p[i+1:]
			break
		}
	}
	if base == "" {
		return "folder"
	}
	return base
}
