package crawler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"argus/internal/extractor"
)

// Crawler scans a directory for Python source files.
type Crawler struct {
	extractor *extractor.Extractor
	ignored   []string
}

// NewCrawler creates a new crawler instance.
func NewCrawler(ext *extractor.Extractor) *Crawler {
	return &Crawler{
		extractor: ext,
		ignored:   []string{".git", ".argus", ".venv", "venv", "__pycache__", "node_modules", "site-packages", "testdata"},
	}
}

// Files expands each path into the Python files under it. A path naming a
// file is taken as is, whatever its suffix. The result is sorted and
// free of duplicates.
func (c *Crawler) Files(paths ...string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && c.skip(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if isSource(d.Name()) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ScanProject walks the root directory and streams every function unit.
// Files that fail to parse are skipped.
func (c *Crawler) ScanProject(ctx context.Context, root string, onUnit func(*extractor.CodeUnit)) error {
	files, err := c.Files(root)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		units, err := c.extractor.ExtractFromSource(ctx, src, path)
		if err != nil {
			continue
		}
		for _, unit := range units {
			onUnit(unit)
		}
	}
	return nil
}

func (c *Crawler) skip(dir string) bool {
	for _, ign := range c.ignored {
		if dir == ign {
			return true
		}
	}
	return strings.HasPrefix(dir, ".") && dir != "."
}

// isSource accepts .py files other than pytest modules.
func isSource(name string) bool {
	if !strings.HasSuffix(name, ".py") {
		return false
	}
	return !strings.HasPrefix(name, "test_") && !strings.HasSuffix(name, "_test.py") && name != "conftest.py"
}
