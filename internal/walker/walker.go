// Package walker implements directory enumeration, tree building and the
// two search modes over a validated base path.
package walker

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/imrandevofficial/openapi-servers/internal/logging"
	"github.com/imrandevofficial/openapi-servers/internal/roots"
	"github.com/imrandevofficial/openapi-servers/pkg/models"
)

// ErrNotDirectory reports an operation that needs a directory but was given
// something else (or nothing at all).
var ErrNotDirectory = errors.New("not a directory")

// ErrBadPattern reports an unparseable glob pattern.
var ErrBadPattern = doublestar.ErrBadPattern

// Lines longer than this abort scanning of the file; the file is reported
// as skipped rather than failing the whole search.
const maxLineBytes = 10 * 1024 * 1024

// Walker runs directory operations beneath paths already validated by the
// guard. The guard is consulted again while walking as a second line of
// defense.
type Walker struct {
	guard *roots.Guard
}

// New creates a Walker backed by the given guard.
func New(guard *roots.Guard) *Walker {
	return &Walker{guard: guard}
}

// List enumerates the immediate children of dir in filesystem order, each
// tagged as file or directory. Symlinks are classified by their target.
func (w *Walker) List(dir string) ([]models.DirectoryEntry, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, ErrNotDirectory
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make([]models.DirectoryEntry, 0, len(entries))
	for _, entry := range entries {
		kind := models.KindFile
		if isDir(filepath.Join(dir, entry.Name()), entry) {
			kind = models.KindDirectory
		}
		out = append(out, models.DirectoryEntry{Name: entry.Name(), Type: kind})
	}
	return out, nil
}

// Tree builds the nested tree of dir's children. Directories carry a
// children list, files do not. A symlinked directory is descended at most
// once and only while its target stays inside the allowed roots, so cyclic
// links cannot recurse forever.
func (w *Walker) Tree(dir string) ([]models.TreeNode, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, ErrNotDirectory
	}

	visited := make(map[string]bool)
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		visited[real] = true
	}
	return w.buildTree(dir, visited)
}

func (w *Walker) buildTree(dir string, visited map[string]bool) ([]models.TreeNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	nodes := make([]models.TreeNode, 0, len(entries))
	for _, entry := range entries {
		child := filepath.Join(dir, entry.Name())
		if !isDir(child, entry) {
			nodes = append(nodes, models.TreeNode{Name: entry.Name(), Type: models.KindFile})
			continue
		}

		children := []models.TreeNode{}
		if real, err := filepath.EvalSymlinks(child); err == nil && !visited[real] && w.guard.Contains(real) {
			visited[real] = true
			kids, err := w.buildTree(child, visited)
			if err != nil {
				return nil, err
			}
			children = kids
		}
		nodes = append(nodes, models.TreeNode{
			Name:     entry.Name(),
			Type:     models.KindDirectory,
			Children: &children,
		})
	}
	return nodes, nil
}

// SearchNames walks base collecting entries whose name contains pattern,
// compared case-insensitively. A directory matching any exclude glob is not
// descended into at all; its own name stays eligible at the parent level.
// Collected paths are re-checked against the allowed roots.
func (w *Walker) SearchNames(base, pattern string, excludes []string) ([]string, error) {
	matches := []string{}
	needle := strings.ToLower(pattern)

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logging.Warn("skipping unreadable path during search",
				zap.String("path", path), zap.Error(walkErr))
			return nil
		}
		if path == base {
			return nil
		}

		name := d.Name()
		if strings.Contains(strings.ToLower(name), needle) && w.guard.Contains(path) {
			matches = append(matches, path)
		}
		if d.IsDir() && matchesExclude(excludes, relSlash(base, path), name) {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// SearchContent scans files under base whose relative path matches
// filePattern, recording every line that contains query case-insensitively.
// Line numbers are 1-based and reported lines are whitespace-trimmed.
// Unreadable files are reported as skipped, never as a failed search.
func (w *Walker) SearchContent(base, query string, recursive bool, filePattern string) ([]models.ContentMatch, []models.SkippedFile, error) {
	info, err := os.Stat(base)
	if err != nil || !info.IsDir() {
		return nil, nil, ErrNotDirectory
	}

	pattern := filePattern
	if recursive {
		pattern = "**/" + filePattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, nil, fmt.Errorf("file pattern %q: %w", filePattern, ErrBadPattern)
	}

	matches := []models.ContentMatch{}
	skipped := []models.SkippedFile{}
	needle := strings.ToLower(query)

	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == base {
				return walkErr
			}
			logging.Warn("skipping unreadable path during content search",
				zap.String("path", path), zap.Error(walkErr))
			skipped = append(skipped, models.SkippedFile{FilePath: path, Reason: walkErr.Error()})
			return nil
		}
		if path == base || !isFile(path, d) {
			return nil
		}
		if ok, _ := doublestar.Match(pattern, relSlash(base, path)); !ok {
			return nil
		}

		fileMatches, scanErr := scanFile(path, needle)
		if scanErr != nil {
			logging.Warn("could not read or search file",
				zap.String("path", path), zap.Error(scanErr))
			skipped = append(skipped, models.SkippedFile{FilePath: path, Reason: scanErr.Error()})
			return nil
		}
		matches = append(matches, fileMatches...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return matches, skipped, nil
}

// scanFile reads one file line by line and returns the matching lines.
// Undecodable bytes are dropped before matching, so binary junk inside an
// otherwise texty file does not hide nearby matches.
func scanFile(path, needle string) ([]models.ContentMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []models.ContentMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.ToValidUTF8(scanner.Text(), "")
		if strings.Contains(strings.ToLower(line), needle) {
			matches = append(matches, models.ContentMatch{
				FilePath:    path,
				LineNumber:  lineNum,
				LineContent: strings.TrimSpace(line),
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

// isDir reports whether the entry is a directory, resolving symlinks the
// way the listing is meant to read.
func isDir(path string, entry fs.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&fs.ModeSymlink != 0 {
		if info, err := os.Stat(path); err == nil {
			return info.IsDir()
		}
	}
	return false
}

// isFile reports whether the entry is a regular file, following symlinks.
func isFile(path string, entry fs.DirEntry) bool {
	if entry.Type().IsRegular() {
		return true
	}
	if entry.Type()&fs.ModeSymlink != 0 {
		if info, err := os.Stat(path); err == nil {
			return info.Mode().IsRegular()
		}
	}
	return false
}

func matchesExclude(patterns []string, rel, name string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}

func relSlash(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
