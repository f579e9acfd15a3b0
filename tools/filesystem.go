package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/extract"
	"github.com/m4xw311/codoc/workspace"
)

func newExtractor() *extract.Extractor { return extract.New() }

// ReadFileTool returns the text content of a workspace file.
type ReadFileTool struct {
	ws        *workspace.FS
	guard     *pathGuard
	extractor *extract.Extractor
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads a file from the workspace and returns its text. PDF and spreadsheet files are converted to text. Args: path (string)."
}
func (t *ReadFileTool) Parameters() []Parameter {
	return []Parameter{{Name: "path", Type: "string", Description: "Workspace-relative or absolute file path.", Required: true}}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	v, err := requireString("read_file", args, "path")
	if err != nil {
		return "", err
	}
	path := v[0]
	if err := t.guard.checkRead(path); err != nil {
		return "", err
	}
	data, err := t.ws.ReadFile(ctx, path)
	if err != nil {
		return "", err
	}
	return t.extractor.Extract(extract.File{
		Name: filepath.Base(path),
		Type: extract.TypeOf(path),
		Data: data,
	})
}

// CreateFileTool writes a new file, replacing any existing one.
type CreateFileTool struct {
	ws    *workspace.FS
	guard *pathGuard
}

func (t *CreateFileTool) Name() string { return "create_file" }
func (t *CreateFileTool) Description() string {
	return "Creates a file with the given content, replacing it if it exists. Args: path (string), content (string)."
}
func (t *CreateFileTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "path", Type: "string", Description: "File to create.", Required: true},
		{Name: "content", Type: "string", Description: "Full file content.", Required: true},
	}
}

func (t *CreateFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	v, err := requireString("create_file", args, "path", "content")
	if err != nil {
		return "", err
	}
	path, content := v[0], v[1]
	if err := t.guard.checkWrite(path); err != nil {
		return "", err
	}
	if err := t.ws.WriteFile(ctx, path, []byte(content)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully created file at %s", path), nil
}

// DeleteFileTool removes a file.
type DeleteFileTool struct {
	ws    *workspace.FS
	guard *pathGuard
}

func (t *DeleteFileTool) Name() string { return "delete_file" }
func (t *DeleteFileTool) Description() string {
	return "Deletes a file from the workspace. Args: path (string)."
}
func (t *DeleteFileTool) Parameters() []Parameter {
	return []Parameter{{Name: "path", Type: "string", Description: "File to delete.", Required: true}}
}

func (t *DeleteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	v, err := requireString("delete_file", args, "path")
	if err != nil {
		return "", err
	}
	path := v[0]
	if err := t.guard.checkWrite(path); err != nil {
		return "", err
	}
	if err := t.ws.Delete(ctx, path); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully deleted file at %s", path), nil
}

// ChangeFileLocationTool moves or renames a file.
type ChangeFileLocationTool struct {
	ws    *workspace.FS
	guard *pathGuard
}

func (t *ChangeFileLocationTool) Name() string { return "change_file_location" }
func (t *ChangeFileLocationTool) Description() string {
	return "Moves or renames a file. Args: old_path (string), new_path (string)."
}
func (t *ChangeFileLocationTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "old_path", Type: "string", Description: "Current file path.", Required: true},
		{Name: "new_path", Type: "string", Description: "Destination file path.", Required: true},
	}
}

func (t *ChangeFileLocationTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	v, err := requireString("change_file_location", args, "old_path", "new_path")
	if err != nil {
		return "", err
	}
	oldPath, newPath := v[0], v[1]
	if err := t.guard.checkWrite(oldPath); err != nil {
		return "", err
	}
	if err := t.guard.checkWrite(newPath); err != nil {
		return "", err
	}
	if err := t.ws.Move(ctx, oldPath, newPath); err != nil {
		return "", errors.Wrapf(err, "failed to move file")
	}
	return fmt.Sprintf("Successfully moved file from %s to %s", oldPath, newPath), nil
}

// WorkspaceStructureTool lists every workspace folder as a JSON tree.
type WorkspaceStructureTool struct {
	ws *workspace.FS
}

func (t *WorkspaceStructureTool) Name() string { return "get_workspace_structure" }
func (t *WorkspaceStructureTool) Description() string {
	return `Returns the files and directories of every workspace folder as a JSON tree. Files map to "file". Takes no arguments.`
}
func (t *WorkspaceStructureTool) Parameters() []Parameter { return nil }

func (t *WorkspaceStructureTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	out, err := json.MarshalIndent(t.ws.Structure(ctx), "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode workspace structure")
	}
	return string(out), nil
}
