package openocd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rstlink/rst/internal/logging"
	"github.com/rstlink/rst/internal/session"
	"github.com/rstlink/rst/internal/target"
)

// Backend launches one OpenOCD process per session.
type Backend struct {
	config Config
	logger *zap.Logger

	mu   sync.Mutex
	last *lockedBuffer
}

// NewBackend creates a backend. Zero config fields take defaults.
func NewBackend(config Config, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{config: config.withDefaults(), logger: logger}
}

// Open implements session.Backend.
func (b *Backend) Open(ctx context.Context, req session.OpenRequest) (session.Link, error) {
	srv, err := startServer(ctx, b.config, sessionParams{
		ScriptDirs:   b.config.ScriptDirs,
		Interface:    b.config.Interface,
		Serial:       req.Probe.Serial,
		TargetConfig: req.Target.Config,
	}, b.logger)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.last = srv.output
	b.mu.Unlock()

	names, err := srv.client.Exec(ctx, "target names")
	if err != nil {
		_ = srv.stop()
		return nil, err
	}
	cores := strings.Fields(names)
	if len(cores) == 0 {
		_ = srv.stop()
		return nil, fmt.Errorf("openocd reported no targets for %s", req.Target.Config)
	}

	l := newLink(srv.client, req.Target, cores, b.config.WorkDir, b.logger)
	l.closeFn = srv.stop
	return l, nil
}

// Output returns the log of the most recently started OpenOCD process.
func (b *Backend) Output() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return ""
	}
	return b.last.String()
}

// link implements session.Link over a Tcl RPC client.
type link struct {
	client  *Client
	target  *target.Target
	cores   []string
	workDir string
	logger  *zap.Logger
	closeFn func() error

	mu     sync.Mutex
	staged map[string]struct{}
}

func newLink(client *Client, tgt *target.Target, cores []string, workDir string, logger *zap.Logger) *link {
	return &link{
		client:  client,
		target:  tgt,
		cores:   cores,
		workDir: workDir,
		logger:  logger,
		staged:  make(map[string]struct{}),
	}
}

func (l *link) Cores() []string {
	return l.cores
}

func (l *link) coreName(core int) (string, error) {
	if core < 0 || core >= len(l.cores) {
		return "", fmt.Errorf("no core %d", core)
	}
	return l.cores[core], nil
}

func (l *link) Reset(ctx context.Context, core int) error {
	name, err := l.coreName(core)
	if err != nil {
		return err
	}
	if _, err := l.client.Exec(ctx, "targets "+name); err != nil {
		return err
	}
	_, err = l.client.Exec(ctx, "reset run")
	return err
}

func (l *link) ReadMemory32(ctx context.Context, core int, address uint64, out []uint32) error {
	name, err := l.coreName(core)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("%s read_memory 0x%x 32 %d", name, address, len(out))
	result, err := l.client.Exec(ctx, cmd)
	if err != nil {
		return err
	}
	words, err := parseWords(result, len(out))
	if err != nil {
		return &ProtocolError{Command: cmd, Response: result}
	}
	copy(out, words)
	return nil
}

func (l *link) Halt(ctx context.Context) error {
	_, err := l.client.Exec(ctx, "reset halt")
	return err
}

// banks returns the number of flash banks OpenOCD configured.
func (l *link) banks(ctx context.Context) (int, error) {
	result, err := l.client.Exec(ctx, "llength [flash list]")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(result))
	if err != nil {
		return 0, &ProtocolError{Command: "llength [flash list]", Response: result}
	}
	return n, nil
}

func (l *link) EraseAll(ctx context.Context) error {
	n, err := l.banks(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("target %s has no flash banks", l.target.Name)
	}
	for bank := 0; bank < n; bank++ {
		cmd := l.target.MassEraseCommand(bank)
		if cmd == "" {
			cmd = fmt.Sprintf("flash erase_sector %d 0 last", bank)
		}
		l.logger.Debug("erasing bank", zap.Int("bank", bank), zap.String("command", cmd))
		if _, err := l.client.Exec(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (l *link) EraseRange(ctx context.Context, address, length uint64) error {
	_, err := l.client.Exec(ctx, fmt.Sprintf("flash erase_address pad 0x%x 0x%x", address, length))
	return err
}

// Stage writes the block to a temporary file for write_image. It does not
// touch the RPC connection, so it can overlap with Program.
func (l *link) Stage(ctx context.Context, b session.Block) (session.StagedBlock, error) {
	if err := ctx.Err(); err != nil {
		return session.StagedBlock{}, err
	}
	file, err := os.CreateTemp(l.workDir, "rst-block-*.bin")
	if err != nil {
		return session.StagedBlock{}, fmt.Errorf("failed to create staging file: %w", err)
	}
	if _, err := file.Write(b.Data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return session.StagedBlock{}, fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return session.StagedBlock{}, fmt.Errorf("failed to write staging file: %w", err)
	}

	l.mu.Lock()
	l.staged[file.Name()] = struct{}{}
	l.mu.Unlock()

	l.logger.Debug("staged block", logging.Hex("address", b.Address), zap.Int("bytes", len(b.Data)), zap.String("file", file.Name()))
	return session.StagedBlock{Block: b, Token: file.Name()}, nil
}

func (l *link) Program(ctx context.Context, b session.StagedBlock) error {
	defer l.release(b.Token)
	_, err := l.client.Exec(ctx, fmt.Sprintf("flash write_image {%s} 0x%x bin", b.Token, b.Address))
	return err
}

func (l *link) release(path string) {
	l.mu.Lock()
	delete(l.staged, path)
	l.mu.Unlock()
	os.Remove(path)
}

func (l *link) Run(ctx context.Context) error {
	_, err := l.client.Exec(ctx, "reset run")
	return err
}

func (l *link) Close() error {
	l.mu.Lock()
	for path := range l.staged {
		os.Remove(path)
	}
	l.staged = map[string]struct{}{}
	l.mu.Unlock()

	if l.closeFn != nil {
		return l.closeFn()
	}
	return l.client.Close()
}
