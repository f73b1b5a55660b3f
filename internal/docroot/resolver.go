// Package docroot maps raw request targets onto files under a document root.
//
// Resolution is the only security-relevant step of the page server: every
// target is treated as untrusted and must be proven to lie inside the root
// before anything is read from disk.
package docroot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrForbidden is returned for targets that escape the document root or
	// carry a forbidden sequence.
	ErrForbidden = errors.New("docroot: path is outside the document root")

	// ErrNotFound is returned for contained targets that do not exist.
	ErrNotFound = errors.New("docroot: path does not exist")
)

// forbiddenSequences are rejected before touching the filesystem. This is a
// fast path only; the canonical containment check always runs afterwards.
var forbiddenSequences = []string{"..", "~"}

// ResolvedPath is the outcome of a successful resolution.
type ResolvedPath struct {
	// AbsolutePath is the canonical path of the target. It contains no
	// symlinks.
	AbsolutePath string

	// WithinRoot is true for every path returned by Resolve.
	WithinRoot bool
}

// Resolver resolves targets against one document root.
//
// The root is canonicalized once at construction. A Resolver holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	// root is the document root as configured, used for concatenation.
	root string

	// canonicalRoot is root with symlinks evaluated.
	canonicalRoot string
}

// NewResolver creates a Resolver for the given document root.
//
// Returns an error if the root does not exist or is not a directory.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document root %q: %w", root, err)
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize document root %q: %w", root, err)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("document root %q is not a directory", root)
	}

	return &Resolver{
		root:          root,
		canonicalRoot: canonical,
	}, nil
}

// Root returns the canonical document root.
func (r *Resolver) Root() string {
	return r.canonicalRoot
}

// Resolve maps rawTarget to a file under the document root.
//
// Steps, in order:
//  1. Reject targets containing ".." or "~" (ErrForbidden)
//  2. Concatenate root and target, then canonicalize the result
//  3. Reject canonical paths outside the canonical root (ErrForbidden)
//  4. Reject paths that do not exist (ErrNotFound)
//
// The target is appended to the root verbatim, so a target without a leading
// slash ("-evil/x") lands on a sibling of the root and is rejected by step 3.
func (r *Resolver) Resolve(rawTarget string) (ResolvedPath, error) {
	for _, seq := range forbiddenSequences {
		if strings.Contains(rawTarget, seq) {
			return ResolvedPath{}, ErrForbidden
		}
	}

	candidate, exists, err := canonicalize(r.root + rawTarget)
	if errors.Is(err, errLinkLoop) {
		return ResolvedPath{}, ErrNotFound
	}
	if err != nil {
		return ResolvedPath{}, fmt.Errorf("failed to canonicalize %q: %w", rawTarget, err)
	}

	if !within(r.canonicalRoot, candidate) {
		return ResolvedPath{}, ErrForbidden
	}

	if !exists {
		return ResolvedPath{}, ErrNotFound
	}

	return ResolvedPath{
		AbsolutePath: candidate,
		WithinRoot:   true,
	}, nil
}

// maxLinks bounds the number of symlinks followed for one path, like the
// kernel's MAXSYMLINKS.
const maxLinks = 40

var errLinkLoop = errors.New("docroot: too many levels of symbolic links")

// canonicalize returns the absolute form of path with every symlink
// followed, including links whose target does not exist. It walks the path
// one component at a time. Once a component is missing, the remaining
// components are joined lexically and exists is false.
//
// ENOTDIR and EACCES on a component count as missing.
func canonicalize(path string) (resolved string, exists bool, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false, err
	}

	volume := filepath.VolumeName(abs)
	resolved = volume + string(filepath.Separator)
	pending := splitPath(abs[len(volume):])
	links := 0

	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]

		switch name {
		case ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, name)
		info, err := os.Lstat(next)
		if err != nil {
			return filepath.Join(append([]string{next}, pending...)...), false, nil
		}

		if info.Mode()&os.ModeSymlink == 0 {
			resolved = next
			continue
		}

		links++
		if links > maxLinks {
			return "", false, errLinkLoop
		}

		target, err := os.Readlink(next)
		if err != nil {
			return "", false, err
		}
		if filepath.IsAbs(target) {
			volume = filepath.VolumeName(target)
			resolved = volume + string(filepath.Separator)
			target = target[len(volume):]
		}
		pending = append(splitPath(target), pending...)
	}

	return resolved, true, nil
}

// splitPath splits path into its non-empty components.
func splitPath(path string) []string {
	var parts []string
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// within reports whether path equals root or is a descendant of it, comparing
// whole path segments so that "/srv/pages-evil" is not inside "/srv/pages".
func within(root, path string) bool {
	if path == root {
		return true
	}

	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
