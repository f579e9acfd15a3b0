package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m4xw311/codoc/agent"
	"github.com/m4xw311/codoc/agent/acp"
	"github.com/m4xw311/codoc/agent/terminal"
	"github.com/m4xw311/codoc/config"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/logging"
	"github.com/spf13/cobra"
)

type options struct {
	session   string
	resume    string
	mode      string
	verbosity string
	toolset   string
	acp       bool
	trace     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "codoc [prompt]",
		Short: "A documentation assistant that proposes reviewable edits",
		Long: `CoDoc plans with a planning service or an LLM, calls workspace tools and
proposes file edits that you accept or reject change by change.

Without --acp it runs an interactive terminal session; any arguments are sent
as the first prompt. With --acp it speaks the Agent Client Protocol on stdin
and stdout for editor integration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.session, "session", "s", "", "Session name to create or use")
	f.StringVarP(&opts.resume, "resume", "r", "", "Resume a session by name")
	f.StringVarP(&opts.mode, "mode", "m", string(agent.ModePrompt), "Execution mode: 'auto' or 'prompt'")
	f.StringVar(&opts.verbosity, "tool-verbosity", string(agent.ToolVerbosityNone), "Tool verbosity level: 'none', 'info', or 'all'")
	f.StringVarP(&opts.toolset, "toolset", "t", "", "Toolset to use (defaults to 'default')")
	f.BoolVar(&opts.acp, "acp", false, "Serve the Agent Client Protocol on stdin/stdout")
	f.BoolVar(&opts.trace, "trace", false, "Write a debug trace to .codoc/trace.log")
	return cmd
}

func run(ctx context.Context, opts *options, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	mode, err := agent.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	verbosity, err := agent.ParseToolVerbosity(opts.verbosity)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrapf(err, "error loading configuration")
	}

	logger := logging.New(stderr, cfg.LogLevel)
	if opts.trace {
		traceLogger, closeTrace, err := logging.TraceFile(filepath.Join(config.DirName, "trace.log"))
		if err != nil {
			return errors.Wrapf(err, "could not open trace log")
		}
		defer closeTrace()
		logger = traceLogger
	}

	st, err := buildStack(ctx, cfg, opts.toolset, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.acp {
		return runACP(ctx, st, stdin, stdout, logger)
	}
	return runTerminal(ctx, st, opts, mode, verbosity, strings.Join(args, " "), stdin, stdout)
}

func runACP(ctx context.Context, st *stack, stdin io.Reader, stdout io.Writer, logger *log.Logger) error {
	server := acp.NewServer(stdin, stdout, st.newAgent, st.proposals, logger)
	if err := st.proposals.RegisterSurface(server); err != nil {
		return err
	}
	logger.Info("serving ACP on stdio")
	if err := server.Serve(ctx); err != nil {
		return errors.Wrapf(err, "ACP mode failed")
	}
	return nil
}

func runTerminal(ctx context.Context, st *stack, opts *options, mode agent.Mode, verbosity agent.ToolVerbosity, prompt string, stdin io.Reader, stdout io.Writer) error {
	name := opts.session
	resuming := opts.resume != ""
	if resuming {
		name = opts.resume
		if fs, ok := st.store.(interface{ Exists(string) bool }); ok && !fs.Exists(name) {
			return errors.New("session '%s' not found", name)
		}
	}
	if name == "" {
		name = defaultSessionName(time.Now())
	}

	a, err := st.newAgent(ctx, name)
	if err != nil {
		return err
	}
	term := terminal.New(a, st.proposals, terminal.Options{
		Mode:      mode,
		Verbosity: verbosity,
		In:        stdin,
		Out:       stdout,
	})
	if err := st.proposals.RegisterSurface(term); err != nil {
		return err
	}

	if resuming {
		fmt.Fprintf(stdout, "Resuming session: %s\n", name)
		a.Initialize(ctx)
	} else {
		fmt.Fprintf(stdout, "Starting new session: %s\n", name)
	}
	fmt.Fprintln(stdout, "CoDoc is ready. Type your prompt, or /help.")

	if err := term.Run(ctx, prompt); err != nil && ctx.Err() == nil {
		return errors.Wrapf(err, "CoDoc stopped with an error")
	}
	return nil
}
