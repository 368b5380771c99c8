package crawler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/internal/extractor"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}

func newCrawler(t *testing.T) *Crawler {
	ext, err := extractor.NewExtractor("python")
	require.NoError(t, err)
	return NewCrawler(ext)
}

func TestCrawler_Files(t *testing.T) {
	root := writeTree(t, map[string]string{
		"bank/ops.py":              "def f(x: int) -> int:\n    return x\n",
		"bank/models.py":           "",
		"bank/test_ops.py":         "",
		"bank/ops_test.py":         "",
		"bank/conftest.py":         "",
		"README.md":                "",
		".venv/lib/x.py":           "",
		"venv/lib/y.py":            "",
		"bank/__pycache__/ops.py":  "",
		".git/hooks/pre-commit.py": "",
	})
	c := newCrawler(t)

	files, err := c.Files(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "bank", "models.py"),
		filepath.Join(root, "bank", "ops.py"),
	}, files)

	t.Run("explicit file and duplicates", func(t *testing.T) {
		explicit := filepath.Join(root, "bank", "test_ops.py")
		files, err := c.Files(explicit, root, filepath.Join(root, "bank"))
		require.NoError(t, err)
		assert.Len(t, files, 3)
		assert.Contains(t, files, explicit)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := c.Files(filepath.Join(root, "absent"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestCrawler_ScanProject(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.py": "def first(x: int) -> int:\n    return x\n\ndef second(y: int) -> int:\n    return y + 1\n",
		"b.py": "def third(z: int) -> int:\n    return z\n",
	})
	c := newCrawler(t)

	var names []string
	err := c.ScanProject(context.Background(), root, func(u *extractor.CodeUnit) {
		names = append(names, u.Name)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, names)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.ScanProject(ctx, root, func(*extractor.CodeUnit) {}), context.Canceled)
}
