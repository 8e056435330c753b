// Package autosort classifies files by extension and moves them into
// category folders. The category table is static; no runtime type
// inspection.
package autosort

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/homedrive/backend/internal/infrastructure/logging"
	"github.com/homedrive/backend/internal/storage/engine"
	"github.com/homedrive/backend/internal/storage/errs"
)

// CategoryOther catches every extension the table does not know.
const CategoryOther = "Other"

// categories maps folder names to the extensions they collect.
var categories = map[string][]string{
	"Images":        {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg", ".webp", ".ico"},
	"Documents":     {".pdf", ".doc", ".docx", ".txt", ".odt", ".rtf", ".tex"},
	"Spreadsheets":  {".xls", ".xlsx", ".csv", ".ods"},
	"Presentations": {".ppt", ".pptx", ".odp"},
	"Videos":        {".mp4", ".avi", ".mkv", ".mov", ".wmv", ".flv", ".webm"},
	"Audio":         {".mp3", ".wav", ".flac", ".aac", ".ogg", ".wma", ".m4a"},
	"Archives":      {".zip", ".rar", ".7z", ".tar", ".gz", ".bz2"},
	"Code":          {".py", ".js", ".html", ".css", ".java", ".cpp", ".c", ".h", ".go", ".rs"},
}

var byExtension = func() map[string]string {
	m := make(map[string]string)
	for category, exts := range categories {
		for _, ext := range exts {
			m[ext] = category
		}
	}
	return m
}()

// Categorize returns the category folder name for a file name.
func Categorize(name string) string {
	if category, ok := byExtension[strings.ToLower(filepath.Ext(name))]; ok {
		return category
	}
	return CategoryOther
}

// Move records one performed relocation.
type Move struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// Result reports the moves performed and any per-file errors.
type Result struct {
	Moved  []Move   `json:"moved"`
	Errors []string `json:"errors"`
}

// Sorter sorts direct children of a folder into category folders.
type Sorter struct {
	eng *engine.Engine
	log *logging.Logger
}

// New creates a sorter over the engine.
func New(eng *engine.Engine, log *logging.Logger) *Sorter {
	return &Sorter{eng: eng, log: log}
}

// Sort scans direct children of folder (default: storage root), skipping
// subfolders, trash, and files already inside a recognized category folder,
// and moves each file into its category. Collisions get a numeric suffix.
func (s *Sorter) Sort(ctx context.Context, folder string) (*Result, error) {
	if _, ok := categories[filepath.Base(folder)]; ok || filepath.Base(folder) == CategoryOther {
		// Sorting inside a category folder would just shuffle in place.
		return &Result{Moved: []Move{}, Errors: []string{}}, nil
	}

	listing, err := s.eng.List(folder)
	if err != nil {
		return nil, err
	}

	result := &Result{Moved: []Move{}, Errors: []string{}}
	for _, file := range listing.Files {
		category := Categorize(file.Name)

		if _, err := s.eng.CreateFolder(ctx, folder, category); err != nil && !isConflict(err) {
			result.Errors = append(result.Errors, file.Path+": "+errs.Sanitize(err))
			continue
		}

		categoryPath := joinVirtual(folder, category)
		moved, err := s.moveWithSuffix(ctx, file.Path, categoryPath)
		if err != nil {
			result.Errors = append(result.Errors, file.Path+": "+errs.Sanitize(err))
			continue
		}
		result.Moved = append(result.Moved, Move{Source: file.Path, Destination: moved})
		s.log.Info("sorted file",
			zap.String("source", file.Path),
			zap.String("destination", moved),
		)
	}

	s.log.Info("auto-sort complete",
		zap.String("folder", folder),
		zap.Int("moved", len(result.Moved)),
		zap.Int("errors", len(result.Errors)),
	)
	s.eng.Notify("sort", folder, map[string]interface{}{"moved": len(result.Moved)})
	return result, nil
}

// moveWithSuffix moves source into destFolder, renaming first when the plain
// name would collide. Never overwrites.
func (s *Sorter) moveWithSuffix(ctx context.Context, source, destFolder string) (string, error) {
	item, err := s.eng.Move(ctx, source, destFolder)
	if err == nil {
		return item.Path, nil
	}
	if !isConflict(err) {
		return "", err
	}

	name := filepath.Base(source)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for counter := 1; counter < 1000; counter++ {
		renamed, renameErr := s.eng.Rename(ctx, source, stem+"_"+strconv.Itoa(counter)+ext)
		if renameErr != nil {
			if isConflict(renameErr) {
				continue
			}
			return "", renameErr
		}
		source = renamed.Path
		item, err = s.eng.Move(ctx, source, destFolder)
		if err == nil {
			return item.Path, nil
		}
		if !isConflict(err) {
			return "", err
		}
	}
	return "", err
}

func isConflict(err error) bool {
	return errors.Is(err, errs.ErrConflict)
}

func joinVirtual(folder, name string) string {
	if folder == "" {
		return name
	}
	return folder + "/" + name
}
