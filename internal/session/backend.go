package session

import (
	"context"

	"github.com/rstlink/rst/internal/probe"
	"github.com/rstlink/rst/internal/target"
)

// Permissions gates destructive operations for the session.
type Permissions struct {
	// AllowEraseAll permits a full-chip erase on protected targets
	AllowEraseAll bool
}

// OpenRequest is what a backend needs to attach.
type OpenRequest struct {
	Probe       probe.Descriptor
	Target      *target.Target
	Permissions Permissions
}

// Block is a contiguous chunk of image data bound for flash.
type Block struct {
	Address uint64
	Data    []byte
}

// End returns the first address past the block.
func (b Block) End() uint64 {
	return b.Address + uint64(len(b.Data))
}

// StagedBlock is a block the backend has buffered and can commit to flash.
// Token is backend specific.
type StagedBlock struct {
	Block
	Token string
}

// Backend opens links to targets.
type Backend interface {
	Open(ctx context.Context, req OpenRequest) (Link, error)
}

// Link is an attached probe-to-target connection. Stage may run
// concurrently with Program on a different block; all other calls are
// serialized by the caller.
type Link interface {
	// Cores returns the backend names of the debuggable cores.
	Cores() []string
	Reset(ctx context.Context, core int) error
	ReadMemory32(ctx context.Context, core int, address uint64, out []uint32) error

	Halt(ctx context.Context) error
	EraseAll(ctx context.Context) error
	EraseRange(ctx context.Context, address, length uint64) error
	Stage(ctx context.Context, b Block) (StagedBlock, error)
	Program(ctx context.Context, b StagedBlock) error
	// Run resets the target and lets it execute.
	Run(ctx context.Context) error

	Close() error
}
