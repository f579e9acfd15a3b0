package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/codoc/config"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/proposal"
	"github.com/m4xw311/codoc/workspace"
)

type nopSurface struct{ opened int }

func (s *nopSurface) Open(ctx context.Context, doc proposal.Document) error {
	s.opened++
	return nil
}
func (s *nopSurface) Highlight(ctx context.Context, handle string, r []proposal.LineRange, h []proposal.LineHighlight) error {
	return nil
}
func (s *nopSurface) Close(ctx context.Context, handle string) error { return nil }

func newTestRegistry(t *testing.T, mutate func(cfg *config.Config)) (*ToolRegistry, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.WorkspaceFolders = []config.WorkspaceFolder{{Name: "proj", Path: root}}
	if mutate != nil {
		mutate(cfg)
	}
	ws, err := workspace.New(cfg.WorkspaceFolders)
	if err != nil {
		t.Fatal(err)
	}
	store := proposal.NewStore(ws, cfg.DisallowedEditExtensions, nil)
	if err := store.RegisterSurface(&nopSurface{}); err != nil {
		t.Fatal(err)
	}
	return NewToolRegistry(cfg, ws, store), root
}

func TestRegistryUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	_, err := r.Execute(context.Background(), "launch_rockets", nil)
	if !errors.Is(err, errors.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestRegistryBuiltins(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	active, err := r.Active(nil)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tool := range active {
		names = append(names, tool.Name())
	}
	want := "read_file create_file delete_file change_file_location get_workspace_structure propose_file_change accept_proposal reject_proposal"
	if got := strings.Join(names, " "); got != want {
		t.Errorf("tools = %s", got)
	}
	if _, ok := r.GetTool("execute_command"); ok {
		t.Error("execute_command must not be registered without allowed_commands")
	}
}

func TestActiveToolset(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	tests := []struct {
		name    string
		tools   []string
		want    []string
		wantErr bool
	}{
		{"explicit", []string{"read_file", "create_file"}, []string{"read_file", "create_file"}, false},
		{"glob", []string{"*_proposal"}, []string{"accept_proposal", "reject_proposal"}, false},
		{"unknown", []string{"nope"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Active(&config.Toolset{Name: "x", Tools: tt.tools})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d tools, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Name() != tt.want[i] {
					t.Errorf("tool %d = %s, want %s", i, got[i].Name(), tt.want[i])
				}
			}
		})
	}
}

func TestFileTools(t *testing.T) {
	r, root := newTestRegistry(t, nil)
	ctx := context.Background()

	out, err := r.Execute(ctx, "create_file", map[string]interface{}{"path": "proj/notes/a.md", "content": "hello"})
	if err != nil {
		t.Fatalf("create_file: %v", err)
	}
	if out != "Successfully created file at proj/notes/a.md" {
		t.Errorf("create_file = %q", out)
	}
	if data, _ := os.ReadFile(filepath.Join(root, "notes", "a.md")); string(data) != "hello" {
		t.Errorf("file content = %q", data)
	}

	out, err = r.Execute(ctx, "read_file", map[string]interface{}{"path": "notes/a.md"})
	if err != nil || out != "hello" {
		t.Errorf("read_file = %q, %v", out, err)
	}

	if _, err := r.Execute(ctx, "change_file_location", map[string]interface{}{"old_path": "notes/a.md", "new_path": "b.md"}); err != nil {
		t.Fatalf("change_file_location: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "b.md")); err != nil {
		t.Errorf("moved file missing: %v", err)
	}

	out, err = r.Execute(ctx, "get_workspace_structure", nil)
	if err != nil {
		t.Fatalf("get_workspace_structure: %v", err)
	}
	var tree map[string]map[string]interface{}
	if err := json.Unmarshal([]byte(out), &tree); err != nil {
		t.Fatalf("structure is not JSON: %v", err)
	}
	if tree["proj"]["b.md"] != "file" {
		t.Errorf("structure = %v", tree)
	}

	if _, err := r.Execute(ctx, "delete_file", map[string]interface{}{"path": "b.md"}); err != nil {
		t.Fatalf("delete_file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "b.md")); !os.IsNotExist(err) {
		t.Error("file should be deleted")
	}
}

func TestMissingArguments(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	tests := []struct {
		tool string
		args map[string]interface{}
		want string
	}{
		{"read_file", map[string]interface{}{}, "read_file requires path"},
		{"create_file", map[string]interface{}{"path": "a"}, "create_file requires content"},
		{"change_file_location", map[string]interface{}{}, "change_file_location requires old_path, new_path"},
		{"propose_file_change", map[string]interface{}{"file_path": "a"}, "requires original_content, proposed_content"},
		{"accept_proposal", map[string]interface{}{}, "accept_proposal requires proposal_id"},
		{"reject_proposal", map[string]interface{}{"proposal_id": "p", "range": "1-2"}, "range must be an object"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			_, err := r.Execute(context.Background(), tt.tool, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestPathGuards(t *testing.T) {
	r, root := newTestRegistry(t, func(cfg *config.Config) {
		cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, "secrets/**")
		cfg.FilesystemAccess.ReadOnly = []string{"published/**"}
	})
	os.MkdirAll(filepath.Join(root, "published"), 0755)
	os.WriteFile(filepath.Join(root, "published", "a.md"), []byte("x"), 0644)
	ctx := context.Background()

	if _, err := r.Execute(ctx, "read_file", map[string]interface{}{"path": "secrets/key.txt"}); err == nil || !strings.Contains(err.Error(), "hidden") {
		t.Errorf("expected hidden error, got %v", err)
	}
	if _, err := r.Execute(ctx, "read_file", map[string]interface{}{"path": ".codoc/state/default.json"}); err == nil {
		t.Error("the .codoc directory must be hidden")
	}
	if _, err := r.Execute(ctx, "read_file", map[string]interface{}{"path": "published/a.md"}); err != nil {
		t.Errorf("read-only files stay readable: %v", err)
	}
	if _, err := r.Execute(ctx, "create_file", map[string]interface{}{"path": "published/a.md", "content": "y"}); err == nil || !strings.Contains(err.Error(), "read-only") {
		t.Errorf("expected read-only error, got %v", err)
	}
}

func TestProposalTools(t *testing.T) {
	r, root := newTestRegistry(t, nil)
	ctx := context.Background()
	os.WriteFile(filepath.Join(root, "doc.md"), []byte("a\nb\nc\nd"), 0644)

	out, err := r.Execute(ctx, "propose_file_change", map[string]interface{}{
		"file_path":        "doc.md",
		"original_content": "a\nb\nc\nd",
		"proposed_content": "a\nB\nc\nD",
		"description":      "capitalize",
	})
	if err != nil {
		t.Fatalf("propose_file_change: %v", err)
	}
	var proposed struct {
		ProposalID    string               `json:"proposal_id"`
		FilePath      string               `json:"file_path"`
		ChangedRanges []proposal.LineRange `json:"changed_ranges"`
		Message       string               `json:"message"`
	}
	if err := json.Unmarshal([]byte(out), &proposed); err != nil {
		t.Fatalf("bad JSON %s: %v", out, err)
	}
	if proposed.ProposalID != "proposal_0" || len(proposed.ChangedRanges) != 2 {
		t.Fatalf("unexpected result %+v", proposed)
	}

	// Ranges arrive as float64 after JSON decoding.
	out, err = r.Execute(ctx, "accept_proposal", map[string]interface{}{
		"proposal_id": "proposal_0",
		"range":       map[string]interface{}{"start": float64(1), "end": float64(1)},
	})
	if err != nil {
		t.Fatalf("accept_proposal: %v", err)
	}
	if !strings.Contains(out, `"success":true`) {
		t.Errorf("accept result = %s", out)
	}
	if data, _ := os.ReadFile(filepath.Join(root, "doc.md")); string(data) != "a\nB\nc\nd" {
		t.Errorf("file = %q", data)
	}

	out, err = r.Execute(ctx, "reject_proposal", map[string]interface{}{"proposal_id": "proposal_0"})
	if err != nil {
		t.Fatalf("reject_proposal: %v", err)
	}
	if !strings.Contains(out, "Rejected all changes") {
		t.Errorf("reject result = %s", out)
	}

	if _, err := r.Execute(ctx, "reject_proposal", map[string]interface{}{"proposal_id": "proposal_0"}); !errors.Is(err, errors.ErrProposalNotFound) {
		t.Errorf("expected ErrProposalNotFound, got %v", err)
	}
}

func TestProposeUnsupportedAndUnchanged(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	_, err := r.Execute(ctx, "propose_file_change", map[string]interface{}{
		"file_path": "report.PDF", "original_content": "a", "proposed_content": "b",
	})
	if !errors.Is(err, errors.ErrUnsupportedFileType) {
		t.Errorf("expected ErrUnsupportedFileType, got %v", err)
	}

	out, err := r.Execute(ctx, "propose_file_change", map[string]interface{}{
		"file_path": "same.md", "original_content": "x", "proposed_content": "x",
	})
	if err != nil {
		t.Fatalf("propose_file_change: %v", err)
	}
	if !strings.Contains(out, `"proposal_id":""`) || !strings.Contains(out, `"changed_ranges":[]`) {
		t.Errorf("unexpected result %s", out)
	}
}

func TestExecuteCommand(t *testing.T) {
	r, _ := newTestRegistry(t, func(cfg *config.Config) {
		cfg.AllowedCommands = []string{`^echo\b`}
	})
	ctx := context.Background()
	out, err := r.Execute(ctx, "execute_command", map[string]interface{}{"command": "echo hi"})
	if err != nil {
		t.Fatalf("execute_command: %v", err)
	}
	if !strings.Contains(out, "hi") {
		t.Errorf("output = %q", out)
	}
	if _, err := r.Execute(ctx, "execute_command", map[string]interface{}{"command": "rm -rf /"}); err == nil {
		t.Error("disallowed command should fail")
	}
}

func TestIsCommandAllowed(t *testing.T) {
	tests := []struct {
		command string
		allowed []string
		want    bool
	}{
		{"go test ./...", []string{`^go (test|vet)`}, true},
		{"go build", []string{`^go (test|vet)`}, false},
		{"", []string{`.*`}, false},
		{"make [", []string{"make ["}, true},
	}
	for _, tt := range tests {
		if got := isCommandAllowed(tt.command, tt.allowed); got != tt.want {
			t.Errorf("isCommandAllowed(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestSchema(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	tool, _ := r.GetTool("accept_proposal")
	schema := Schema(tool)
	required := schema["required"].([]string)
	if len(required) != 1 || required[0] != "proposal_id" {
		t.Errorf("required = %v", required)
	}
	props := schema["properties"].(map[string]interface{})
	if _, ok := props["range"]; !ok {
		t.Error("range property missing")
	}
}
