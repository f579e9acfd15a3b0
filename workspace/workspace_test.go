package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m4xw311/codoc/config"
)

func newTestFS(t *testing.T) (*FS, string, string) {
	t.Helper()
	docs := t.TempDir()
	notes := t.TempDir()
	fs, err := New([]config.WorkspaceFolder{
		{Name: "docs", Path: docs},
		{Name: "notes", Path: notes},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fs, docs, notes
}

func TestNewRequiresFolder(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error without workspace folders")
	}
}

func TestResolve(t *testing.T) {
	fs, docs, notes := newTestFS(t)
	tests := []struct {
		name string
		path string
		want string
	}{
		{"relative goes to first folder", "a/b.txt", filepath.Join(docs, "a", "b.txt")},
		{"folder prefix is stripped", "notes/todo.md", filepath.Join(notes, "todo.md")},
		{"first folder prefix is stripped", "docs/readme.md", filepath.Join(docs, "readme.md")},
		{"absolute passes through", "/etc/hosts", "/etc/hosts"},
		{"unknown leading segment stays", "other/x.txt", filepath.Join(docs, "other", "x.txt")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fs.Resolve(tt.path); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestRel(t *testing.T) {
	fs, _, _ := newTestFS(t)
	if got := fs.Rel("notes/sub/x.md"); got != "sub/x.md" {
		t.Errorf("Rel = %q", got)
	}
	if got := fs.Rel(".codoc/state/s.json"); got != ".codoc/state/s.json" {
		t.Errorf("Rel = %q", got)
	}
}

func TestReadWriteMoveDelete(t *testing.T) {
	fs, docs, notes := newTestFS(t)
	ctx := context.Background()

	if err := fs.WriteFile(ctx, "deep/dir/a.txt", []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := fs.ReadFile(ctx, "deep/dir/a.txt")
	if err != nil || string(data) != "hello" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}

	if err := fs.Move(ctx, "deep/dir/a.txt", "notes/b.txt"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := os.Stat(filepath.Join(docs, "deep", "dir", "a.txt")); !os.IsNotExist(err) {
		t.Errorf("old file still present: %v", err)
	}
	if got, _ := os.ReadFile(filepath.Join(notes, "b.txt")); string(got) != "hello" {
		t.Errorf("moved content = %q", got)
	}

	if err := fs.Delete(ctx, "notes/b.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fs.ReadFile(ctx, "notes/b.txt"); err == nil {
		t.Error("expected read of deleted file to fail")
	}
}

func TestDeleteKeepsNonEmptyDirectory(t *testing.T) {
	fs, docs, _ := newTestFS(t)
	ctx := context.Background()
	if err := fs.WriteFile(ctx, "chapters/one.md", []byte("1")); err != nil {
		t.Fatal(err)
	}

	if err := fs.Delete(ctx, "chapters"); err == nil {
		t.Fatal("expected deleting a non-empty directory to fail")
	}
	if _, err := os.Stat(filepath.Join(docs, "chapters", "one.md")); err != nil {
		t.Errorf("directory contents removed: %v", err)
	}

	if err := fs.Delete(ctx, "chapters/one.md"); err != nil {
		t.Fatal(err)
	}
	if err := fs.Delete(ctx, "chapters"); err != nil {
		t.Errorf("deleting the emptied directory: %v", err)
	}
}

func TestStructure(t *testing.T) {
	fs, docs, _ := newTestFS(t)
	os.MkdirAll(filepath.Join(docs, "chapters"), 0755)
	os.MkdirAll(filepath.Join(docs, ".git"), 0755)
	os.WriteFile(filepath.Join(docs, "chapters", "one.md"), []byte("1"), 0644)
	os.WriteFile(filepath.Join(docs, ".hidden"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(docs, "index.md"), []byte("i"), 0644)

	shape := fs.Structure(context.Background())
	root, ok := shape["docs"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing docs folder in %v", shape)
	}
	if root["index.md"] != "file" {
		t.Errorf("index.md = %v", root["index.md"])
	}
	if _, ok := root[".git"]; ok {
		t.Error("dot directory should be skipped")
	}
	if _, ok := root[".hidden"]; ok {
		t.Error("dotfile should be skipped")
	}
	chapters, ok := root["chapters"].(map[string]interface{})
	if !ok || chapters["one.md"] != "file" {
		t.Errorf("chapters = %v", root["chapters"])
	}
	if _, ok := shape["notes"].(map[string]interface{}); !ok {
		t.Errorf("missing notes folder")
	}
}

func TestStructureUnreadableDirectory(t *testing.T) {
	fs, err := New([]config.WorkspaceFolder{{Name: "gone", Path: filepath.Join(t.TempDir(), "missing")}})
	if err != nil {
		t.Fatal(err)
	}
	root := fs.Structure(context.Background())["gone"].(map[string]interface{})
	if _, ok := root["error"]; !ok {
		t.Errorf("expected error entry, got %v", root)
	}
}
