package config

import (
	"fmt"

	"github.com/marmos91/pageserver/pkg/pages"
	"github.com/mitchellh/mapstructure"
)

// CreateCatalog creates the page catalog based on configuration.
//
// Supported types:
//   - "builtin": the pages compiled into the binary
//   - "directory": pages read from files in a directory
//
// Returns:
//   - *pages.Catalog: Loaded catalog
//   - error: Configuration or loading error
func CreateCatalog(cfg *PagesConfig) (*pages.Catalog, error) {
	switch cfg.Type {
	case "builtin", "":
		return pages.Builtin(), nil
	case "directory":
		return createDirectoryCatalog(cfg.Directory)
	default:
		return nil, fmt.Errorf("unknown pages type: %q", cfg.Type)
	}
}

// createDirectoryCatalog loads the catalog from a directory.
func createDirectoryCatalog(options map[string]any) (*pages.Catalog, error) {
	type DirectoryPagesConfig struct {
		Path      string `mapstructure:"path"`
		Root      string `mapstructure:"root"`
		Forbidden string `mapstructure:"forbidden"`
		NotFound  string `mapstructure:"not_found"`
	}

	var dirCfg DirectoryPagesConfig
	if err := mapstructure.Decode(options, &dirCfg); err != nil {
		return nil, fmt.Errorf("failed to decode directory pages config: %w", err)
	}

	if dirCfg.Path == "" {
		return nil, fmt.Errorf("directory pages: path is required")
	}

	catalog, err := pages.LoadDirectory(pages.DirectoryOptions{
		Path:          dirCfg.Path,
		RootFile:      dirCfg.Root,
		ForbiddenFile: dirCfg.Forbidden,
		NotFoundFile:  dirCfg.NotFound,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load directory pages: %w", err)
	}

	return catalog, nil
}
