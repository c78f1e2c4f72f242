package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dshills/shelfsearch/pkg/types"
)

// ErrCatalogNotFound is returned when the catalog file does not exist
var ErrCatalogNotFound = errors.New("library catalog not found")

// catalogFile is the on-disk YAML layout:
//
//	items:
//	  - id: 42
//	    title: The Dragon Road
//	    author: A. Writer
//	    genres: [Fantasy, Adventure]
//	    description: A story about dragons.
type catalogFile struct {
	Items []catalogItem `yaml:"items"`
}

type catalogItem struct {
	ID          int64    `yaml:"id"`
	Title       string   `yaml:"title"`
	Author      string   `yaml:"author,omitempty"`
	Artist      string   `yaml:"artist,omitempty"`
	Genres      []string `yaml:"genres,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// FileRepository serves items from a YAML catalog file. The file is parsed
// again whenever its modification time or size changes. A repeated ID keeps
// its last definition.
type FileRepository struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	mem     *MemoryRepository
	modTime time.Time
	size    int64
	loaded  bool
}

// NewFileRepository creates a repository for the catalog at path. The file
// is read lazily; a missing file surfaces as ErrCatalogNotFound.
func NewFileRepository(path string, logger *zap.Logger) *FileRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileRepository{path: path, logger: logger, mem: NewMemoryRepository()}
}

// Path returns the catalog file path
func (r *FileRepository) Path() string {
	return r.path
}

// All returns every valid item of the catalog
func (r *FileRepository) All(ctx context.Context) ([]types.LibraryItem, error) {
	if err := r.refresh(); err != nil {
		return nil, err
	}
	return r.mem.All(ctx)
}

// Get returns the item with id
func (r *FileRepository) Get(ctx context.Context, id int64) (types.LibraryItem, bool, error) {
	if err := r.refresh(); err != nil {
		return types.LibraryItem{}, false, err
	}
	return r.mem.Get(ctx, id)
}

// Reload forces the next access to parse the file again
func (r *FileRepository) Reload() {
	r.mu.Lock()
	r.loaded = false
	r.mu.Unlock()
}

func (r *FileRepository) refresh() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrCatalogNotFound, r.path)
		}
		return fmt.Errorf("stat catalog: %w", err)
	}
	if r.loaded && info.ModTime().Equal(r.modTime) && info.Size() == r.size {
		return nil
	}

	items, err := ParseCatalog(r.path, r.logger)
	if err != nil {
		return err
	}

	r.mem.Replace(items)
	r.modTime = info.ModTime()
	r.size = info.Size()
	r.loaded = true

	r.logger.Debug("library catalog loaded", zap.String("path", r.path), zap.Int("items", len(items)))
	return nil
}

// ParseCatalog reads a YAML catalog. Items without an ID or title are
// skipped with a warning.
func ParseCatalog(path string, logger *zap.Logger) ([]types.LibraryItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, path)
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	items := make([]types.LibraryItem, 0, len(file.Items))
	for i, ci := range file.Items {
		item := types.LibraryItem{
			ID:          ci.ID,
			Title:       ci.Title,
			Author:      ci.Author,
			Artist:      ci.Artist,
			Genres:      ci.Genres,
			Description: ci.Description,
		}
		if err := item.Validate(); err != nil {
			if logger != nil {
				logger.Warn("skipping catalog entry", zap.Int("position", i), zap.Int64("id", ci.ID), zap.Error(err))
			}
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// WriteCatalog writes items to path in catalog format
func WriteCatalog(path string, items []types.LibraryItem) error {
	file := catalogFile{Items: make([]catalogItem, len(items))}
	for i, item := range items {
		file.Items[i] = catalogItem{
			ID:          item.ID,
			Title:       item.Title,
			Author:      item.Author,
			Artist:      item.Artist,
			Genres:      item.Genres,
			Description: item.Description,
		}
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}
