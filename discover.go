package ruletrace

import (
	"bytes"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"

	"github.com/jward/ruletrace/internal/watch"
)

// discover lists candidate input files as slash-separated paths relative to
// the root. Inside a git repository it uses git ls-files to respect
// .gitignore; otherwise it walks the filesystem, skipping hidden directories,
// node_modules, vendor and __pycache__. Which files are actually read is
// decided by the configured globs.
func (e *Engine) discover() ([]string, error) {
	paths, err := gitListFiles(e.root)
	if err != nil {
		e.logger.Debug("git ls-files unavailable, walking the tree", "error", err)
		return walkListFiles(e.root)
	}
	return paths, nil
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) files under root. Tracked files deleted from the working tree are
// still listed; reading them fails with ErrNotExist and they are dropped.
func gitListFiles(root string) ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.Command("git", "ls-files", "-z", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	var paths []string
	for _, p := range bytes.Split(stdout.Bytes(), []byte{0}) {
		if len(p) == 0 {
			continue
		}
		paths = append(paths, filepath.ToSlash(string(p)))
	}
	return paths, nil
}

// walkListFiles discovers files by walking the filesystem, used as a fallback
// when git is not available.
func walkListFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && watch.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}
