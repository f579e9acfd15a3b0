package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m4xw311/codoc/agent"
	"github.com/m4xw311/codoc/config"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/llm"
	"github.com/m4xw311/codoc/oracle"
	"github.com/m4xw311/codoc/proposal"
	"github.com/m4xw311/codoc/session"
	"github.com/m4xw311/codoc/tools"
	"github.com/m4xw311/codoc/tools/mcp"
	"github.com/m4xw311/codoc/workspace"
)

// stack is everything a front end needs besides its own surface.
type stack struct {
	proposals *proposal.Store
	planner   *agent.Planner
	store     session.Store
	logger    *log.Logger
	closers   []func() error
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("shutdown", "err", err)
		}
	}
}

func (s *stack) newAgent(ctx context.Context, name string) (*agent.Agent, error) {
	return agent.New(ctx, agent.Options{
		Planner:     s.planner,
		Store:       s.store,
		SessionName: name,
		Logger:      s.logger,
	})
}

func buildStack(ctx context.Context, cfg *config.Config, toolset string, logger *log.Logger) (*stack, error) {
	ws, err := workspace.New(cfg.WorkspaceFolders)
	if err != nil {
		return nil, err
	}
	st := &stack{logger: logger}

	store, closeStore, err := openStore(cfg.State)
	if err != nil {
		return nil, err
	}
	st.store = store
	if closeStore != nil {
		st.closers = append(st.closers, closeStore)
	}

	st.proposals = proposal.NewStore(ws, cfg.DisallowedEditExtensions, logger)
	registry := tools.NewToolRegistry(cfg, ws, st.proposals)
	stopMCP := mcp.RegisterServers(ctx, registry, cfg.AdditionalMCPServers, logger)
	st.closers = append(st.closers, func() error { stopMCP(); return nil })

	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		st.Close()
		return nil, err
	}
	active, err := registry.Active(ts)
	if err != nil {
		st.Close()
		return nil, err
	}

	o, err := newOracle(ctx, cfg.Oracle, active, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.planner = agent.NewPlanner(o, registry, cfg.MaxIterations(), logger)
	logger.Debug("stack ready", "provider", cfg.Oracle.Provider, "tools", len(active), "state", cfg.State.Backend)
	return st, nil
}

// openStore returns the session store for the configured backend and, for
// sqlite, its close function.
func openStore(cfg config.State) (session.Store, func() error, error) {
	switch cfg.Backend {
	case "", "file":
		s, err := session.NewFileStore(cfg.Path)
		return s, nil, err
	case "sqlite":
		path := cfg.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "state.db")
		}
		s, err := session.OpenSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, errors.New("unknown state backend %q. Must be 'file' or 'sqlite'", cfg.Backend)
}

// newOracle talks to a remote planning service for the http provider and
// drives an LLM directly for every other provider.
func newOracle(ctx context.Context, cfg config.Oracle, active []tools.Tool, logger *log.Logger) (oracle.Oracle, error) {
	if cfg.Provider == "" || cfg.Provider == "http" {
		return oracle.NewHTTPClient(cfg.URL, cfg.Timeout, logger), nil
	}
	client, err := llm.New(ctx, cfg.Provider, cfg.Model)
	if err != nil {
		return nil, errors.Wrapf(err, "error initializing %s client", cfg.Provider)
	}
	return oracle.NewLLMOracle(client, active), nil
}

func defaultSessionName(now time.Time) string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "codoc"
	}
	return fmt.Sprintf("%s_%s", filepath.Base(wd), now.Format("2006-01-02_15-04-05"))
}
