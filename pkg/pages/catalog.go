// Package pages provides the static bodies the page server answers with:
// the root page and the themed error pages.
//
// The bodies are opaque byte blobs. They are loaded once at startup and
// shared read-only by every connection handler.
package pages

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"
)

//go:embed builtin/cat.txt builtin/forbidden.html builtin/not_found.html
var builtinFS embed.FS

// Catalog holds the static response bodies.
type Catalog struct {
	// Root is sent for a GET of "/".
	Root []byte

	// Forbidden is sent with 403 responses.
	Forbidden []byte

	// NotFound is sent with 404 responses.
	NotFound []byte
}

// Default file names looked up by LoadDirectory.
const (
	DefaultRootFile      = "cat.txt"
	DefaultForbiddenFile = "forbidden.html"
	DefaultNotFoundFile  = "not_found.html"
)

// Builtin returns the catalog compiled into the binary.
func Builtin() *Catalog {
	return &Catalog{
		Root:      mustReadBuiltin(DefaultRootFile),
		Forbidden: mustReadBuiltin(DefaultForbiddenFile),
		NotFound:  mustReadBuiltin(DefaultNotFoundFile),
	}
}

func mustReadBuiltin(name string) []byte {
	data, err := builtinFS.ReadFile("builtin/" + name)
	if err != nil {
		panic(fmt.Sprintf("builtin page %s missing: %v", name, err))
	}
	return data
}

// DirectoryOptions names the files LoadDirectory reads. Empty names fall
// back to the Default* constants.
type DirectoryOptions struct {
	Path          string
	RootFile      string
	ForbiddenFile string
	NotFoundFile  string
}

// LoadDirectory reads a catalog from files in a directory.
//
// Every page must exist and be valid UTF-8, since pages are sent as text.
func LoadDirectory(opts DirectoryOptions) (*Catalog, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("pages directory: path is required")
	}
	if opts.RootFile == "" {
		opts.RootFile = DefaultRootFile
	}
	if opts.ForbiddenFile == "" {
		opts.ForbiddenFile = DefaultForbiddenFile
	}
	if opts.NotFoundFile == "" {
		opts.NotFoundFile = DefaultNotFoundFile
	}

	root, err := readPage(opts.Path, opts.RootFile)
	if err != nil {
		return nil, err
	}
	forbidden, err := readPage(opts.Path, opts.ForbiddenFile)
	if err != nil {
		return nil, err
	}
	notFound, err := readPage(opts.Path, opts.NotFoundFile)
	if err != nil {
		return nil, err
	}

	return &Catalog{
		Root:      root,
		Forbidden: forbidden,
		NotFound:  notFound,
	}, nil
}

func readPage(dir, name string) ([]byte, error) {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("page %s is not valid UTF-8", path)
	}
	return data, nil
}
