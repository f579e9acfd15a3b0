package tools

import (
	"context"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/codoc/config"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/proposal"
	"github.com/m4xw311/codoc/workspace"
)

// Parameter describes one named tool argument.
type Parameter struct {
	Name        string
	Type        string // JSON schema type: string, integer, object...
	Description string
	Required    bool
	// Properties describes the fields of an object parameter.
	Properties []Parameter
}

// Tool defines the interface for any action the assistant can take.
type Tool interface {
	Name() string
	Description() string
	Parameters() []Parameter
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolRegistry holds all available tools.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

// NewToolRegistry registers the built-in file, workspace and proposal tools.
// execute_command is only available when allowed_commands is configured.
func NewToolRegistry(cfg *config.Config, ws *workspace.FS, proposals *proposal.Store) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	guard := &pathGuard{ws: ws, access: &cfg.FilesystemAccess}

	r.Register(&ReadFileTool{ws: ws, guard: guard, extractor: newExtractor()})
	r.Register(&CreateFileTool{ws: ws, guard: guard})
	r.Register(&DeleteFileTool{ws: ws, guard: guard})
	r.Register(&ChangeFileLocationTool{ws: ws, guard: guard})
	r.Register(&WorkspaceStructureTool{ws: ws})
	r.Register(&ProposeFileChangeTool{proposals: proposals, guard: guard})
	r.Register(&AcceptProposalTool{proposals: proposals})
	r.Register(&RejectProposalTool{proposals: proposals})
	if len(cfg.AllowedCommands) > 0 {
		r.Register(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands, dir: ws.Folders()[0].Path})
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *ToolRegistry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs the named tool. Handler errors are returned unchanged.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", errors.Wrapf(errors.ErrUnknownTool, "tool '%s'", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return t.Execute(ctx, args)
}

// Active returns the tools exposed by a toolset, in registration order. A
// nil toolset exposes everything. Entries may be glob patterns such as
// "gopls*" to select a family of MCP tools.
func (r *ToolRegistry) Active(ts *config.Toolset) ([]Tool, error) {
	if ts == nil {
		out := make([]Tool, 0, len(r.order))
		for _, name := range r.order {
			out = append(out, r.tools[name])
		}
		return out, nil
	}

	selected := make(map[string]bool)
	for _, entry := range ts.Tools {
		if strings.ContainsAny(entry, "*?[{") {
			if !doublestar.ValidatePattern(entry) {
				return nil, errors.New("invalid tool pattern '%s' in toolset '%s'", entry, ts.Name)
			}
			for _, name := range r.order {
				if ok, _ := doublestar.Match(entry, name); ok {
					selected[name] = true
				}
			}
			continue
		}
		if _, ok := r.tools[entry]; !ok {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", entry, ts.Name)
		}
		selected[entry] = true
	}

	var out []Tool
	for _, name := range r.order {
		if selected[name] {
			out = append(out, r.tools[name])
		}
	}
	return out, nil
}

// Schema renders a tool's parameters as a JSON schema object.
func Schema(t Tool) map[string]interface{} {
	return objectSchema(t.Parameters())
}

func objectSchema(params []Parameter) map[string]interface{} {
	properties := map[string]interface{}{}
	required := []string{}
	for _, p := range params {
		prop := map[string]interface{}{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Type == "object" && len(p.Properties) > 0 {
			nested := objectSchema(p.Properties)
			prop["properties"] = nested["properties"]
			prop["required"] = nested["required"]
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// pathGuard enforces the hidden and read-only globs from configuration.
// Patterns are matched against the workspace-relative path.
type pathGuard struct {
	ws     *workspace.FS
	access *config.FilesystemAccess
}

func (g *pathGuard) checkRead(path string) error {
	rel := g.ws.Rel(path)
	hidden, err := isPathRestricted(rel, g.access.Hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", path)
	}
	return nil
}

func (g *pathGuard) checkWrite(path string) error {
	if err := g.checkRead(path); err != nil {
		return err
	}
	readOnly, err := isPathRestricted(g.ws.Rel(path), g.access.ReadOnly)
	if err != nil {
		return err
	}
	if readOnly {
		return errors.New("access denied: path '%s' is read-only", path)
	}
	return nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.Match(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string) bool {
	if len(strings.Fields(command)) == 0 {
		return false
	}
	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Fallback to simple string comparison if regex is invalid
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

func stringArg(args map[string]interface{}, name string) (string, bool) {
	v, ok := args[name].(string)
	return v, ok
}

func requireString(tool string, args map[string]interface{}, names ...string) ([]string, error) {
	out := make([]string, len(names))
	var missing []string
	for i, name := range names {
		v, ok := stringArg(args, name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		out[i] = v
	}
	if len(missing) > 0 {
		return nil, errors.New("%s requires %s", tool, strings.Join(missing, ", "))
	}
	return out, nil
}
