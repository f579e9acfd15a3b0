// Command ws_bridge exposes a stdio ACP agent over a WebSocket so browser
// based editors can talk to it. Each connection gets its own agent process.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/m4xw311/codoc/logging"
	"github.com/spf13/cobra"
)

const exitGrace = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr, level string
	cmd := &cobra.Command{
		Use:   "ws_bridge [-- agent-command args...]",
		Short: "Serve a stdio ACP agent over WebSocket",
		Long: `Starts one agent process per WebSocket connection on /ws. Every text
message is written to the agent's stdin as a line. Every stdout line is sent
back unchanged; stderr lines are wrapped as {"type":"stderr","data":...}.

The agent command defaults to "codoc --acp".`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"codoc", "--acp"}
			}
			logger := logging.New(cmd.ErrOrStderr(), level)
			mux := http.NewServeMux()
			mux.Handle("/ws", newHandler(args, logger))
			logger.Info("WebSocket server running", "url", fmt.Sprintf("ws://%s/ws", addr), "agent", args)
			return http.ListenAndServe(addr, mux)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "Listen address")
	cmd.Flags().StringVar(&level, "log-level", "info", "Log level")
	return cmd
}

type stderrMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func newHandler(cmdArgs []string, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		cmd := exec.CommandContext(ctx, cmdArgs[0], cmdArgs[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			logger.Error("error getting stdin", "err", err)
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			logger.Error("error getting stdout", "err", err)
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			logger.Error("error getting stderr", "err", err)
			return
		}
		if err := cmd.Start(); err != nil {
			logger.Error("error starting agent", "err", err)
			return
		}
		logger.Info("agent started", "pid", cmd.Process.Pid, "remote", r.RemoteAddr)

		// gorilla/websocket allows one concurrent writer.
		var writeMu sync.Mutex
		send := func(data []byte) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return conn.WriteMessage(websocket.TextMessage, data)
		}

		var pipes sync.WaitGroup
		pipes.Add(2)
		go func() {
			defer pipes.Done()
			pump(stdout, func(line []byte) error { return send(line) }, logger)
		}()
		go func() {
			defer pipes.Done()
			pump(stderr, func(line []byte) error {
				msg, err := json.Marshal(stderrMessage{Type: "stderr", Data: string(line)})
				if err != nil {
					return err
				}
				return send(msg)
			}, logger)
		}()

		pumped := make(chan struct{})
		go func() {
			pipes.Wait()
			close(pumped)
			// The agent is gone; unblock the read loop.
			conn.Close()
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Debug("websocket closed", "err", err)
				break
			}
			if _, err := stdin.Write(append(msg, '\n')); err != nil {
				logger.Error("stdin write failed", "err", err)
				break
			}
		}
		stdin.Close()
		select {
		case <-pumped:
		case <-time.After(exitGrace):
			logger.Warn("agent did not exit after stdin closed, killing it", "pid", cmd.Process.Pid)
			cancel()
			<-pumped
		}
		if err := cmd.Wait(); err != nil {
			logger.Debug("agent exited", "err", err)
		}
	}
}

// pump sends every line of r until EOF or a send failure.
func pump(r io.Reader, send func([]byte) error, logger *log.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if err := send(scanner.Bytes()); err != nil {
			logger.Debug("websocket write failed", "err", err)
			return
		}
	}
}
