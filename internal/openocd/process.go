package openocd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"
)

// sessionTemplate is the per-session OpenOCD configuration.
const sessionTemplate = `# generated by rst
{{- range .ScriptDirs}}
add_script_search_dir {{tcl .}}
{{- end}}
source [find {{tcl .Interface}}]
{{- if .Serial}}
adapter serial {{tcl .Serial}}
{{- end}}
source [find {{tcl .TargetConfig}}]
tcl_port {{.TclPort}}
gdb_port disabled
telnet_port disabled
init
`

// sessionParams fills sessionTemplate.
type sessionParams struct {
	ScriptDirs   []string
	Interface    string
	Serial       string
	TargetConfig string
	TclPort      int
}

// tclQuote renders s as one double-quoted Tcl word with no substitutions.
func tclQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\', '"', '$', '[', ']', '{', '}':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func renderSessionConfig(p sessionParams) (string, error) {
	tmpl, err := template.New("session").Funcs(template.FuncMap{"tcl": tclQuote}).Parse(sessionTemplate)
	if err != nil {
		return "", &TemplateError{Template: "session", Err: err}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return "", &TemplateError{Template: "session", Err: err}
	}
	return buf.String(), nil
}

// lockedBuffer collects process output from two pipes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// server is a running OpenOCD process with its RPC connection.
type server struct {
	cmd     *exec.Cmd
	client  *Client
	cfgFile string
	output  *lockedBuffer
	exited  chan struct{}
	waitErr error
	timeout time.Duration
	logger  *zap.Logger
}

// freePort asks the kernel for an unused loopback port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// writeConfigFile writes the rendered config to a temporary file.
func writeConfigFile(dir, content string) (string, error) {
	file, err := os.CreateTemp(dir, "rst-openocd-*.cfg")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write config content: %w", err)
	}
	return file.Name(), nil
}

// startServer launches OpenOCD and waits for its Tcl port. The process
// lives until stop, or until ctx is cancelled.
func startServer(ctx context.Context, cfg Config, p sessionParams, logger *zap.Logger) (*server, error) {
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve tcl port: %w", err)
	}
	p.TclPort = port

	rendered, err := renderSessionConfig(p)
	if err != nil {
		return nil, err
	}
	logger.Debug("rendered openocd config", zap.String("content", rendered))

	cfgFile, err := writeConfigFile(cfg.WorkDir, rendered)
	if err != nil {
		return nil, err
	}

	args := []string{"-f", cfgFile}
	cmd := exec.CommandContext(ctx, cfg.Path, args...)
	out := &lockedBuffer{}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = cfg.ShutdownTimeout

	logger.Info("starting openocd",
		zap.String("path", cfg.Path),
		zap.String("config", cfgFile),
		zap.Int("tcl_port", port),
		zap.String("serial", p.Serial),
		zap.String("target", p.TargetConfig),
	)

	if err := cmd.Start(); err != nil {
		os.Remove(cfgFile)
		return nil, &ExecutionError{Stage: "start", ExitCode: -1, Err: err}
	}

	s := &server{
		cmd:     cmd,
		cfgFile: cfgFile,
		output:  out,
		exited:  make(chan struct{}),
		timeout: cfg.ShutdownTimeout,
		logger:  logger,
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	client, err := s.waitReady(ctx, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), cfg.StartupTimeout)
	if err != nil {
		s.kill()
		return nil, err
	}
	s.client = client
	return s, nil
}

// waitReady polls the Tcl port until it accepts a connection, the process
// exits, or the timeout elapses.
func (s *server) waitReady(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		dialCtx, cancel := context.WithTimeout(ctx, time.Second)
		client, err := Dial(dialCtx, addr, s.logger)
		cancel()
		if err == nil {
			s.logger.Debug("openocd ready", zap.String("addr", addr))
			return client, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.exited:
			return nil, &ExecutionError{
				Stage:    "startup",
				ExitCode: exitCode(s.waitErr),
				Output:   s.output.String(),
				Err:      s.waitErr,
			}
		case <-deadline.C:
			return nil, &TimeoutError{Stage: "startup", Timeout: timeout.String(), Output: s.output.String()}
		case <-tick.C:
		}
	}
}

// stop asks OpenOCD to shut down and waits for it, killing it if needed.
func (s *server) stop() error {
	defer os.Remove(s.cfgFile)

	if s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		// the connection drops before a reply arrives
		_, _ = s.client.Exec(ctx, "shutdown")
		cancel()
		_ = s.client.Close()
	}

	select {
	case <-s.exited:
	case <-time.After(s.timeout):
		s.logger.Warn("openocd did not exit, killing", zap.Duration("timeout", s.timeout))
		s.kill()
	}

	var exitErr *exec.ExitError
	if s.waitErr != nil && !errors.As(s.waitErr, &exitErr) {
		return &ExecutionError{Stage: "shutdown", ExitCode: -1, Output: s.output.String(), Err: s.waitErr}
	}
	return nil
}

func (s *server) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	<-s.exited
	os.Remove(s.cfgFile)
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err == nil {
		return 0
	}
	return -1
}
