package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/homedrive/backend/internal/api/http"
	"github.com/homedrive/backend/internal/api/middleware"
	"github.com/homedrive/backend/internal/api/ws"
	"github.com/homedrive/backend/internal/infrastructure/config"
	"github.com/homedrive/backend/internal/infrastructure/logging"
	"github.com/homedrive/backend/internal/infrastructure/monitoring"
	"github.com/homedrive/backend/internal/storage/autosort"
	"github.com/homedrive/backend/internal/storage/dedupe"
	"github.com/homedrive/backend/internal/storage/diskuse"
	"github.com/homedrive/backend/internal/storage/engine"
	"github.com/homedrive/backend/internal/storage/favorites"
	"github.com/homedrive/backend/internal/storage/lock"
	"github.com/homedrive/backend/internal/storage/search"
	"github.com/homedrive/backend/internal/storage/trash"
	"github.com/homedrive/backend/internal/storage/vpath"
)

// Server wraps the HTTP server and storage components.
type Server struct {
	router  *gin.Engine
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer validates the storage root and wires every component. A missing
// or unwritable root is the one fatal condition.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing HomeDrive server",
		zap.String("port", cfg.Server.Port),
		zap.String("storage_root", cfg.Storage.Root),
	)

	if err := ensureWritableRoot(cfg.Storage.Root); err != nil {
		return nil, fmt.Errorf("storage root unusable: %w", err)
	}

	validator, err := vpath.New(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("storage root unusable: %w", err)
	}

	metrics := monitoring.NewMetrics()
	locks := lock.New(cfg.Storage.LockTimeout)
	hub := ws.NewHub(logger)

	eng := engine.New(validator, locks, logger,
		engine.WithNotifier(hub),
		engine.WithThumbnailCache(cfg.Storage.ThumbnailCacheBytes),
	)
	trashMgr := trash.New(eng, logger, cfg.Storage.TrashRetention)
	eng.SetTrash(trashMgr)

	scanner := dedupe.New(eng, logger)
	sorter := autosort.New(eng, logger)
	disk := diskuse.New(validator.Root(), cfg.Storage.DiskUsageTTL)
	searcher := search.New(eng)

	favFile := cfg.Storage.FavoritesFile
	if favFile == "" {
		// Side store lives beside the root, outside the browsable tree.
		favFile = filepath.Join(filepath.Dir(validator.Root()), ".homedrive.favorites.toml")
	}
	favs := favorites.New(validator, favFile, logger)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(logger, metrics, eng, trashMgr, scanner, sorter, disk, favs, searcher, cfg.Storage.ZipMaxBytes)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.GET("/files", handlers.ListFiles)
		api.GET("/folders", handlers.ListFolders)
		api.POST("/folder/create", handlers.CreateFolder)
		api.POST("/upload", handlers.Upload)
		api.GET("/download", handlers.Download)
		api.GET("/thumbnail", handlers.Thumbnail)
		api.POST("/rename", handlers.Rename)
		api.POST("/move", handlers.Move)
		api.POST("/move-multiple", handlers.MoveMultiple)
		api.POST("/delete", handlers.Delete)
		api.GET("/search", handlers.Search)

		api.GET("/trash", handlers.TrashList)
		api.GET("/trash/info", handlers.TrashInfo)
		api.POST("/trash/restore", handlers.TrashRestore)
		api.POST("/trash/empty", handlers.TrashEmpty)

		api.GET("/maintenance/duplicates", handlers.DuplicateScan)
		api.POST("/maintenance/delete-duplicates", handlers.DuplicateResolve)
		api.POST("/maintenance/auto-sort", handlers.AutoSort)

		api.GET("/disk-usage", handlers.DiskUsage)
		api.GET("/favorites", handlers.FavoritesList)
		api.POST("/favorites/toggle", handlers.FavoritesToggle)
	}

	router.GET("/stream", hub.HandleConnection)

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Close flushes the logger.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	s.logger.Sync()
	return nil
}

// ensureWritableRoot creates the root if absent and proves writability with a
// probe file.
func ensureWritableRoot(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(root, ".write-probe")
	if err := os.WriteFile(probe, []byte{}, 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}
