package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedrive/backend/internal/infrastructure/config"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Root = t.TempDir()
	cfg.Storage.FavoritesFile = filepath.Join(t.TempDir(), "favorites.toml")
	cfg.RateLimit.Enabled = false

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv, cfg.Storage.Root
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "homedrive_")
}

func TestCreateListDeleteFlow(t *testing.T) {
	srv, root := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/folder/create", map[string]string{"name": "docs"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/folder/create", map[string]string{"name": "docs"})
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("hello"), 0o644))

	w = doJSON(t, srv, http.MethodGet, "/api/files?path=docs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a.txt")

	w = doJSON(t, srv, http.MethodPost, "/api/delete", map[string]string{"path": "docs/a.txt"})
	require.Equal(t, http.StatusOK, w.Code)

	// Soft-deleted: gone from the listing, present in trash.
	w = doJSON(t, srv, http.MethodGet, "/api/files?path=docs", nil)
	assert.NotContains(t, w.Body.String(), "a.txt")

	w = doJSON(t, srv, http.MethodGet, "/api/trash", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a.txt")
}

func TestTrashRestoreFlow(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	w := doJSON(t, srv, http.MethodPost, "/api/delete", map[string]string{"path": "a.txt"})
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		Items []struct {
			TrashName string `json:"trash_name"`
		} `json:"items"`
	}
	w = doJSON(t, srv, http.MethodGet, "/api/trash", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Items, 1)

	w = doJSON(t, srv, http.MethodPost, "/api/trash/restore", map[string]string{"trash_name": listing.Items[0].TrashName})
	require.Equal(t, http.StatusOK, w.Code)
	assert.FileExists(t, filepath.Join(root, "a.txt"))
}

func TestUploadEndpoint(t *testing.T) {
	srv, root := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "note.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("uploaded"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data, readErr := os.ReadFile(filepath.Join(root, "note.txt"))
	require.NoError(t, readErr)
	assert.Equal(t, "uploaded", string(data))
}

func TestDownloadEndpoint(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("payload"), 0o644))

	w := doJSON(t, srv, http.MethodGet, "/api/download?path=a.txt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "payload", w.Body.String())

	w = doJSON(t, srv, http.MethodGet, "/api/download?path=ghost.txt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTraversalRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/files?path="+
		strings.ReplaceAll("../../etc", "/", "%2F"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRenameAndMoveEndpoints(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dest"), 0o755))

	w := doJSON(t, srv, http.MethodPost, "/api/rename", map[string]string{"path": "a.txt", "new_name": "b.txt"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/move", map[string]string{"source": "b.txt", "destination": "dest"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.FileExists(t, filepath.Join(root, "dest", "b.txt"))
}

func TestMoveMultiplePartialGets207(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dest"), 0o755))

	w := doJSON(t, srv, http.MethodPost, "/api/move-multiple", map[string]interface{}{
		"sources":     []string{"a.txt", "ghost.txt"},
		"destination": "dest",
	})
	assert.Equal(t, http.StatusMultiStatus, w.Code)
	assert.FileExists(t, filepath.Join(root, "dest", "a.txt"))
}

func TestDiskUsageEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/disk-usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "total_bytes")
}

func TestFavoritesEndpoints(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))

	w := doJSON(t, srv, http.MethodPost, "/api/favorites/toggle", map[string]string{"path": "docs"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_favorited":true`)

	w = doJSON(t, srv, http.MethodGet, "/api/favorites", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "docs")
}

func TestMaintenanceEndpoints(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "photo.jpg"), []byte("jpeg"), 0o644))

	w := doJSON(t, srv, http.MethodGet, "/api/maintenance/duplicates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doJSON(t, srv, http.MethodPost, "/api/maintenance/auto-sort", map[string]string{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.FileExists(t, filepath.Join(root, "Images", "photo.jpg"))
}

func TestSearchEndpoint(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "report.txt"), []byte("x"), 0o644))

	w := doJSON(t, srv, http.MethodGet, "/api/search?q=report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "report.txt")
}
