package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rstlink/rst/internal/logging"
	"github.com/rstlink/rst/internal/probe"
	"github.com/rstlink/rst/internal/target"
)

// Manager attaches sessions.
type Manager struct {
	backend Backend
	catalog *target.Catalog
	logger  *zap.Logger
}

// NewManager creates a manager. catalog resolves target names.
func NewManager(backend Backend, catalog *target.Catalog, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{backend: backend, catalog: catalog, logger: logger}
}

// Attach opens the probe and attaches to the named target.
func (m *Manager) Attach(ctx context.Context, desc probe.Descriptor, targetName string, perms Permissions) (*Session, error) {
	tgt, err := m.catalog.Lookup(targetName)
	if err != nil {
		return nil, &AttachError{Serial: desc.Serial, Target: targetName, Err: err}
	}

	m.logger.Info("attaching",
		zap.String("serial", desc.Serial),
		zap.String("target", targetName),
		zap.String("family", tgt.Name),
		zap.Bool("allow_erase_all", perms.AllowEraseAll),
	)

	link, err := m.backend.Open(ctx, OpenRequest{Probe: desc, Target: tgt, Permissions: perms})
	if err != nil {
		return nil, &AttachError{Serial: desc.Serial, Target: targetName, Err: err}
	}

	names := link.Cores()
	if len(names) == 0 {
		_ = link.Close()
		return nil, &AttachError{Serial: desc.Serial, Target: targetName, Err: fmt.Errorf("backend reported no cores")}
	}

	s := &Session{
		probe:  desc,
		target: tgt,
		name:   targetName,
		perms:  perms,
		link:   link,
		logger: m.logger,
	}
	for i, n := range names {
		s.cores = append(s.cores, &Core{index: i, name: n, link: link, logger: m.logger})
	}
	m.logger.Debug("attached", zap.Strings("cores", names))
	return s, nil
}

// Session is one attached probe and target.
type Session struct {
	probe  probe.Descriptor
	target *target.Target
	name   string
	perms  Permissions
	link   Link
	cores  []*Core
	logger *zap.Logger
}

// Probe returns the probe the session runs over.
func (s *Session) Probe() probe.Descriptor { return s.probe }

// Target returns the catalog entry the session attached with.
func (s *Session) Target() *target.Target { return s.target }

// NumCores returns the number of addressable cores.
func (s *Session) NumCores() int { return len(s.cores) }

// Core returns the core at index.
func (s *Session) Core(index int) (*Core, error) {
	if index < 0 || index >= len(s.cores) {
		return nil, &IndexOutOfRangeError{Index: index, Count: len(s.cores)}
	}
	return s.cores[index], nil
}

// Halt stops every core ahead of flash operations.
func (s *Session) Halt(ctx context.Context) error {
	if err := s.link.Halt(ctx); err != nil {
		return &FlashIOError{Op: "halt", Err: err}
	}
	return nil
}

// EraseAll erases the whole nonvolatile memory.
func (s *Session) EraseAll(ctx context.Context) error {
	if s.target.Protected && !s.perms.AllowEraseAll {
		return &PermissionError{Op: "erase all", Target: s.name, Flag: "--allow-erase-all"}
	}
	s.logger.Info("erasing entire flash", zap.String("target", s.name))
	if err := s.link.EraseAll(ctx); err != nil {
		return &FlashIOError{Op: "erase all", Err: err}
	}
	return nil
}

// EraseRange erases the sectors covering [address, address+length).
func (s *Session) EraseRange(ctx context.Context, address, length uint64) error {
	s.logger.Debug("erasing range", logging.Hex("address", address), zap.Uint64("length", length))
	if err := s.link.EraseRange(ctx, address, length); err != nil {
		return &FlashIOError{Op: "erase", Address: address, HasAddress: true, Err: err}
	}
	return nil
}

// Transfer stages b with the backend.
func (s *Session) Transfer(ctx context.Context, b Block) (StagedBlock, error) {
	staged, err := s.link.Stage(ctx, b)
	if err != nil {
		return StagedBlock{}, &FlashIOError{Op: "transfer", Address: b.Address, HasAddress: true, Err: err}
	}
	return staged, nil
}

// Program commits a staged block to flash.
func (s *Session) Program(ctx context.Context, b StagedBlock) error {
	if err := s.link.Program(ctx, b); err != nil {
		return &FlashIOError{Op: "program", Address: b.Address, HasAddress: true, Err: err}
	}
	return nil
}

// Run resets the target and lets it execute.
func (s *Session) Run(ctx context.Context) error {
	if err := s.link.Run(ctx); err != nil {
		return &FlashIOError{Op: "run", Err: err}
	}
	return nil
}

// Close detaches from the target.
func (s *Session) Close() error {
	s.logger.Debug("closing session", zap.String("serial", s.probe.Serial))
	return s.link.Close()
}

// Core is one debuggable core of a session.
type Core struct {
	index  int
	name   string
	link   Link
	logger *zap.Logger
}

// Index returns the core's position in the session.
func (c *Core) Index() int { return c.index }

// Name returns the backend's name for the core.
func (c *Core) Name() string { return c.name }

// Reset resets the core and returns once it is running again.
func (c *Core) Reset(ctx context.Context) error {
	c.logger.Info("resetting core", zap.Int("core", c.index), zap.String("name", c.name))
	if err := c.link.Reset(ctx, c.index); err != nil {
		return &CoreError{Core: c.index, Op: "reset", Err: err}
	}
	return nil
}

// ReadMemory32 reads len(out) words starting at address.
func (c *Core) ReadMemory32(ctx context.Context, address uint64, out []uint32) error {
	c.logger.Debug("reading memory", zap.Int("core", c.index), logging.Hex("address", address), zap.Int("words", len(out)))
	if err := c.link.ReadMemory32(ctx, c.index, address, out); err != nil {
		return &CoreError{Core: c.index, Op: "read", Err: err}
	}
	return nil
}
