package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/codoc/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DirName is the per-user and per-project configuration directory.
	DirName = ".codoc"

	DefaultOracleURL     = "http://localhost:8000/general_agent/invoke"
	DefaultMaxIterations = 10
)

// DefaultDisallowedEditExtensions are formats that cannot be line-diffed.
var DefaultDisallowedEditExtensions = []string{".pdf", ".docx", ".xlsx"}

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// WorkspaceFolder names a root the file tools resolve paths against.
type WorkspaceFolder struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type Oracle struct {
	// Provider is one of http, anthropic, openai, gemini, bedrock or mock.
	Provider      string        `yaml:"provider"`
	URL           string        `yaml:"url"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxIterations int           `yaml:"max_iterations"`
}

type State struct {
	// Backend is file or sqlite.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type Config struct {
	Oracle                   Oracle            `yaml:"oracle"`
	WorkspaceFolders         []WorkspaceFolder `yaml:"workspace_folders"`
	Toolsets                 []Toolset         `yaml:"toolsets"`
	AdditionalMCPServers     []MCPServer       `yaml:"additional_mcp_servers"`
	AllowedCommands          []string          `yaml:"allowed_commands"`
	FilesystemAccess         FilesystemAccess  `yaml:"filesystem_access"`
	DisallowedEditExtensions []string          `yaml:"disallowed_edit_extensions"`
	State                    State             `yaml:"state"`
	LogLevel                 string            `yaml:"log_level"`
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	cfg := &Config{
		Oracle: Oracle{
			Provider:      "http",
			URL:           DefaultOracleURL,
			Timeout:       2 * time.Minute,
			MaxIterations: DefaultMaxIterations,
		},
		State:    State{Backend: "file"},
		LogLevel: "info",
	}
	// The .codoc directory is never exposed to tools.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, DirName, DirName+"/**")
	cfg.DisallowedEditExtensions = append(cfg.DisallowedEditExtensions, DefaultDisallowedEditExtensions...)
	return cfg
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, DirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, DirName, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if url := os.Getenv("CODOC_ORACLE_URL"); url != "" {
		cfg.Oracle.URL = url
	}
	if len(cfg.WorkspaceFolders) == 0 {
		cfg.WorkspaceFolders = []WorkspaceFolder{{Name: filepath.Base(wd), Path: wd}}
	}
	if cfg.State.Path == "" {
		cfg.State.Path = filepath.Join(wd, DirName, "state")
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Note: Unmarshal will overwrite fields present in the YAML. This provides
	// a simple merge where project-level config replaces user-level.
	return yaml.Unmarshal(data, cfg)
}

// GetToolset finds a toolset by name. An empty name means "default". When no
// toolsets are configured at all, nil is returned and every registered tool
// is active.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if len(c.Toolsets) == 0 {
		return nil, nil
	}
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	// Fallback to default if a specific toolset was requested but not found
	return c.GetToolset("default")
}

// MaxIterations returns the planning loop ceiling, defaulting to 10.
func (c *Config) MaxIterations() int {
	if c.Oracle.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return c.Oracle.MaxIterations
}
