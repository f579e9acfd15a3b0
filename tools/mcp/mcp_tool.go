// Package mcp exposes tools served by external MCP servers through the tool
// registry.
package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/m4xw311/codoc/config"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name   string
	cmd    *exec.Cmd
	conn   *mcpsdk.ClientSession
	tools  map[string]*MCPTool
	logger *log.Logger
}

// NewMCPClient starts the MCP server subprocess and discovers its tools.
func NewMCPClient(ctx context.Context, server config.MCPServer, logger *log.Logger) (*MCPClient, error) {
	cmd := exec.Command(server.Command, server.Args...)
	cmd.Stderr = os.Stderr
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "codoc", Version: "v1.0.0"}, nil)
	conn, err := client.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", server.Name)
	}
	c := &MCPClient{
		Name:   server.Name,
		cmd:    cmd,
		conn:   conn,
		tools:  make(map[string]*MCPTool),
		logger: logger,
	}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			c.Stop()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", server.Name)
		}
		for _, t := range list.Tools {
			c.tools[t.Name] = &MCPTool{
				toolName:    t.Name,
				description: t.Description,
				parameters:  parametersFromSchema(t.InputSchema),
				client:      c,
			}
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	logger.Info("initialized MCP client", "server", server.Name, "tools", len(c.tools))
	return c, nil
}

// Tools returns the server's tools sorted by name.
func (c *MCPClient) Tools() []*MCPTool {
	out := make([]*MCPTool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].toolName < out[j].toolName })
	return out
}

// Stop terminates the MCP server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.logger.Info("terminating MCP server", "server", c.Name)
		return c.cmd.Process.Kill()
	}
	return nil
}

// RegisterServers starts every configured server and registers its tools.
// Servers that fail to start are logged and skipped. The returned function
// stops all started servers.
func RegisterServers(ctx context.Context, registry *tools.ToolRegistry, servers []config.MCPServer, logger *log.Logger) func() {
	var clients []*MCPClient
	for _, s := range servers {
		c, err := NewMCPClient(ctx, s, logger)
		if err != nil {
			logger.Warn("skipping MCP server", "server", s.Name, "err", err)
			continue
		}
		for _, t := range c.Tools() {
			registry.Register(t)
		}
		clients = append(clients, c)
	}
	return func() {
		for _, c := range clients {
			if err := c.Stop(); err != nil {
				logger.Warn("failed to stop MCP server", "server", c.Name, "err", err)
			}
		}
	}
}

// MCPTool is a tool served by an external MCP server.
type MCPTool struct {
	toolName    string
	description string
	parameters  []tools.Parameter
	client      *MCPClient
}

// Name returns the server's own tool name. Qualified "<server>:<tool>" names
// are rejected by some providers' tool name rules.
func (t *MCPTool) Name() string { return t.toolName }

func (t *MCPTool) Description() string { return t.description }

func (t *MCPTool) Parameters() []tools.Parameter { return t.parameters }

// Execute calls the tool on the server and concatenates its text content.
func (t *MCPTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}
	var out strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			out.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' reported an error: %s", t.Name(), out.String())
	}
	return out.String(), nil
}

// parametersFromSchema flattens the top level of a JSON schema. The schema is
// round-tripped through JSON so any schema representation works.
func parametersFromSchema(schema interface{}) []tools.Parameter {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var s struct {
		Properties map[string]struct {
			Type        interface{} `json:"type"`
			Description string      `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tools.Parameter, 0, len(names))
	for _, name := range names {
		prop := s.Properties[name]
		typ, _ := prop.Type.(string)
		if typ == "" {
			typ = "string"
		}
		params = append(params, tools.Parameter{
			Name:        name,
			Type:        typ,
			Description: prop.Description,
			Required:    required[name],
		})
	}
	return params
}
