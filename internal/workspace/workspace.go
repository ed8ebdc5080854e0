// Package workspace is the path-confined file manager for the agent's
// working directory. Every caller-supplied path is resolved under the root
// before any filesystem access; escapes are rejected, never silently
// clamped.
package workspace

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowai/burrow/internal/apierr"
	"github.com/burrowai/burrow/internal/logging"
)

// Manager confines file operations to a single root directory.
type Manager struct {
	root string
	log  zerolog.Logger
}

// NewManager creates a Manager rooted at dir, creating it if needed.
func NewManager(dir string) (*Manager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err, "resolve workspace root")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "create workspace root")
	}
	return &Manager{root: abs, log: logging.Component("workspace")}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Resolve maps a caller-supplied relative path to an absolute path under
// the root. Absolute paths and traversal out of the root are rejected.
func (m *Manager) Resolve(rel string) (string, error) {
	if strings.Contains(rel, "\x00") {
		return "", apierr.New(apierr.KindValidation, "invalid path %q", rel)
	}
	rel = filepath.FromSlash(strings.TrimSpace(rel))
	if filepath.IsAbs(rel) {
		return "", apierr.New(apierr.KindValidation, "path %q must be relative", rel)
	}

	abs := filepath.Clean(filepath.Join(m.root, rel))
	if abs != m.root && !strings.HasPrefix(abs, m.root+string(filepath.Separator)) {
		return "", apierr.New(apierr.KindValidation, "path %q escapes the workspace", rel)
	}
	return abs, nil
}

// FileInfo is one workspace directory entry.
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"is_dir"`
	ModTime time.Time `json:"mod_time"`
}

// List returns the entries of a workspace subdirectory, sorted by path.
func (m *Manager) List(subdir string) ([]FileInfo, error) {
	abs, err := m.Resolve(subdir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.New(apierr.KindNotFound, "directory %q not found", subdir)
		}
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "list %q", subdir)
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			continue // removed between ReadDir and Info
		}
		infos = append(infos, FileInfo{
			Path:    filepath.ToSlash(filepath.Join(subdir, entry.Name())),
			Size:    fi.Size(),
			IsDir:   entry.IsDir(),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// Read returns a workspace file's contents.
func (m *Manager) Read(path string) ([]byte, error) {
	abs, err := m.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.New(apierr.KindNotFound, "file %q not found", path)
		}
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, err, "read %q", path)
	}
	return data, nil
}

// Write stores a workspace file, creating parent directories as needed. The
// content lands via a temp file and rename so readers never see a partial
// write.
func (m *Manager) Write(path string, content []byte) error {
	abs, err := m.Resolve(path)
	if err != nil {
		return err
	}
	if abs == m.root {
		return apierr.New(apierr.KindValidation, "path is required")
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "create parent of %q", path)
	}

	tmp, err := os.CreateTemp(dir, ".ws-*")
	if err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "write %q", path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "write %q", path)
	}
	if err := tmp.Close(); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "write %q", path)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "write %q", path)
	}
	m.log.Debug().Str("path", path).Int("bytes", len(content)).Msg("workspace file written")
	return nil
}

// Delete removes a workspace file or directory tree. Missing paths report
// NotFound.
func (m *Manager) Delete(path string) error {
	abs, err := m.Resolve(path)
	if err != nil {
		return err
	}
	if abs == m.root {
		return apierr.New(apierr.KindValidation, "refusing to delete the workspace root")
	}

	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return apierr.New(apierr.KindNotFound, "path %q not found", path)
		}
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "stat %q", path)
	}
	if err := os.RemoveAll(abs); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "delete %q", path)
	}
	m.log.Debug().Str("path", path).Msg("workspace path deleted")
	return nil
}

// Move renames a workspace file. An existing destination is a Conflict
// unless overwrite is set.
func (m *Manager) Move(src, dst string, overwrite bool) error {
	srcAbs, err := m.Resolve(src)
	if err != nil {
		return err
	}
	dstAbs, err := m.Resolve(dst)
	if err != nil {
		return err
	}

	if _, err := os.Stat(srcAbs); err != nil {
		if os.IsNotExist(err) {
			return apierr.New(apierr.KindNotFound, "path %q not found", src)
		}
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "stat %q", src)
	}
	if _, err := os.Stat(dstAbs); err == nil && !overwrite {
		return apierr.New(apierr.KindConflict, "path %q already exists", dst)
	}

	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "create parent of %q", dst)
	}
	if err := os.Rename(srcAbs, dstAbs); err != nil {
		return apierr.Wrap(apierr.KindBackendUnavailable, err, "move %q to %q", src, dst)
	}
	m.log.Debug().Str("from", src).Str("to", dst).Msg("workspace path moved")
	return nil
}
