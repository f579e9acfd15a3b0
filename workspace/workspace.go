// Package workspace is the storage capability the file tools and the
// proposal store share. Paths are resolved against configured workspace
// folders the same way regardless of which caller supplies them.
package workspace

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/m4xw311/codoc/config"
	"github.com/m4xw311/codoc/errors"
)

var drivePath = regexp.MustCompile(`^[a-zA-Z]:`)

// FS reads and writes files under a set of named workspace folders.
type FS struct {
	folders []config.WorkspaceFolder
}

// New returns an FS over folders. At least one folder is required.
func New(folders []config.WorkspaceFolder) (*FS, error) {
	if len(folders) == 0 {
		return nil, errors.New("no workspace folders are open")
	}
	fs := &FS{}
	for _, f := range folders {
		abs, err := filepath.Abs(f.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid workspace folder %q", f.Path)
		}
		name := f.Name
		if name == "" {
			name = filepath.Base(abs)
		}
		fs.folders = append(fs.folders, config.WorkspaceFolder{Name: name, Path: abs})
	}
	return fs, nil
}

// Folders returns the resolved workspace folders.
func (w *FS) Folders() []config.WorkspaceFolder {
	return append([]config.WorkspaceFolder(nil), w.folders...)
}

// Resolve maps a tool-supplied path to a file system path. Absolute paths are
// returned as is. A leading segment naming a workspace folder selects that
// folder and is stripped; anything else is relative to the first folder.
func (w *FS) Resolve(path string) string {
	if strings.HasPrefix(path, "/") || drivePath.MatchString(path) {
		return filepath.Clean(path)
	}
	folder, rest := w.folderFor(path)
	return filepath.Join(folder.Path, filepath.FromSlash(rest))
}

// Rel returns path relative to the workspace folder it resolves into, using
// forward slashes. Paths outside every folder are returned cleaned.
func (w *FS) Rel(path string) string {
	abs := w.Resolve(path)
	for _, f := range w.folders {
		rel, err := filepath.Rel(f.Path, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(abs)
}

func (w *FS) folderFor(path string) (config.WorkspaceFolder, string) {
	first := strings.SplitN(path, "/", 2)[0]
	folder := w.folders[0]
	for _, f := range w.folders {
		if f.Name == first {
			folder = f
			break
		}
	}
	if strings.HasPrefix(path, folder.Name+"/") || strings.HasPrefix(path, folder.Name+`\`) {
		path = path[len(folder.Name)+1:]
	}
	return folder, path
}

func (w *FS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(w.Resolve(path))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return data, nil
}

// WriteFile writes data to path, creating parent directories as needed.
func (w *FS) WriteFile(ctx context.Context, path string, data []byte) error {
	target := w.Resolve(path)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrapf(err, "failed to create parent directory for '%s'", path)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return nil
}

// Delete removes a file or an empty directory.
func (w *FS) Delete(ctx context.Context, path string) error {
	if err := os.Remove(w.Resolve(path)); err != nil {
		return errors.Wrapf(err, "failed to delete '%s'", path)
	}
	return nil
}

// Move copies oldPath to newPath and then removes oldPath. Copy-then-delete
// works across folders on different devices.
func (w *FS) Move(ctx context.Context, oldPath, newPath string) error {
	data, err := w.ReadFile(ctx, oldPath)
	if err != nil {
		return err
	}
	if err := w.WriteFile(ctx, newPath, data); err != nil {
		return err
	}
	return w.Delete(ctx, oldPath)
}

// Structure returns a tree keyed by folder name. Directories map to nested
// objects, files to the string "file". Dotfiles are skipped and a directory
// that cannot be read becomes {"error": ...}.
func (w *FS) Structure(ctx context.Context) map[string]interface{} {
	shape := make(map[string]interface{}, len(w.folders))
	for _, f := range w.folders {
		shape[f.Name] = dirShape(ctx, f.Path)
	}
	return shape
}

func dirShape(ctx context.Context, dir string) map[string]interface{} {
	if err := ctx.Err(); err != nil {
		return map[string]interface{}{"error": "Failed to read directory: " + err.Error()}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return map[string]interface{}{"error": "Failed to read directory: " + err.Error()}
	}
	shape := make(map[string]interface{})
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch {
		case e.IsDir():
			shape[e.Name()] = dirShape(ctx, filepath.Join(dir, e.Name()))
		case e.Type().IsRegular():
			shape[e.Name()] = "file"
		}
	}
	return shape
}
