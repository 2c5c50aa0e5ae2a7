package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
)

// Simulated operation names, as recorded in the journal and used as keys
// for injected failures.
const (
	OpOpen     = "open"
	OpReset    = "reset"
	OpRead     = "read"
	OpHalt     = "halt"
	OpEraseAll = "erase-all"
	OpErase    = "erase"
	OpStage    = "stage"
	OpProgram  = "program"
	OpRun      = "run"
	OpClose    = "close"
)

// SimOp is one journal entry.
type SimOp struct {
	Op      string
	Core    int
	Address uint64
	Length  uint64
}

func (o SimOp) String() string {
	switch o.Op {
	case OpReset:
		return fmt.Sprintf("%s core%d", o.Op, o.Core)
	case OpRead:
		return fmt.Sprintf("%s core%d 0x%08x+%d", o.Op, o.Core, o.Address, o.Length)
	case OpErase, OpStage, OpProgram:
		return fmt.Sprintf("%s 0x%08x+%d", o.Op, o.Address, o.Length)
	default:
		return o.Op
	}
}

// SimBackend is an in-memory target: a sparse byte-addressed memory where
// unwritten bytes read as erased flash (0xff).
type SimBackend struct {
	// CoreNames defaults to a single "sim.cpu0"
	CoreNames []string
	// Fail injects an error for the named operation
	Fail map[string]error

	mu      sync.Mutex
	mem     map[uint64]byte
	journal []SimOp
	opened  int
}

// NewSimBackend creates an empty simulated target.
func NewSimBackend() *SimBackend {
	return &SimBackend{mem: make(map[uint64]byte)}
}

// Poke32 stores a little-endian word.
func (b *SimBackend) Poke32(address uint64, value uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	b.Write(address, buf[:])
}

// Write stores bytes directly, bypassing the journal.
func (b *SimBackend) Write(address uint64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem == nil {
		b.mem = make(map[uint64]byte)
	}
	for i, v := range data {
		b.mem[address+uint64(i)] = v
	}
}

// Read returns n bytes at address.
func (b *SimBackend) Read(address uint64, n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked(address, n)
}

func (b *SimBackend) readLocked(address uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		v, ok := b.mem[address+uint64(i)]
		if !ok {
			v = 0xff
		}
		out[i] = v
	}
	return out
}

// Journal returns a copy of the operations performed so far.
func (b *SimBackend) Journal() []SimOp {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SimOp(nil), b.journal...)
}

// Ops returns the journal as strings.
func (b *SimBackend) Ops() []string {
	j := b.Journal()
	out := make([]string, len(j))
	for i, op := range j {
		out[i] = op.String()
	}
	return out
}

// Opened returns how many links were opened.
func (b *SimBackend) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// record journals op and returns the injected failure for it, if any.
func (b *SimBackend) record(op SimOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.journal = append(b.journal, op)
	return b.Fail[op.Op]
}

// Open implements Backend.
func (b *SimBackend) Open(ctx context.Context, req OpenRequest) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.record(SimOp{Op: OpOpen}); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.opened++
	if b.mem == nil {
		b.mem = make(map[uint64]byte)
	}
	b.mu.Unlock()

	names := b.CoreNames
	if names == nil {
		names = []string{"sim.cpu0"}
	}
	return &simLink{backend: b, cores: names}, nil
}

type simLink struct {
	backend *SimBackend
	cores   []string
	closed  bool
}

func (l *simLink) Cores() []string { return l.cores }

func (l *simLink) check(core int) error {
	if l.closed {
		return fmt.Errorf("link closed")
	}
	if core < 0 || core >= len(l.cores) {
		return fmt.Errorf("no core %d", core)
	}
	return nil
}

func (l *simLink) Reset(ctx context.Context, core int) error {
	if err := l.check(core); err != nil {
		return err
	}
	return l.backend.record(SimOp{Op: OpReset, Core: core})
}

func (l *simLink) ReadMemory32(ctx context.Context, core int, address uint64, out []uint32) error {
	if err := l.check(core); err != nil {
		return err
	}
	if err := l.backend.record(SimOp{Op: OpRead, Core: core, Address: address, Length: uint64(len(out))}); err != nil {
		return err
	}
	raw := l.backend.Read(address, 4*len(out))
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return nil
}

func (l *simLink) Halt(ctx context.Context) error {
	return l.backend.record(SimOp{Op: OpHalt})
}

func (l *simLink) EraseAll(ctx context.Context) error {
	if err := l.backend.record(SimOp{Op: OpEraseAll}); err != nil {
		return err
	}
	l.backend.mu.Lock()
	l.backend.mem = make(map[uint64]byte)
	l.backend.mu.Unlock()
	return nil
}

func (l *simLink) EraseRange(ctx context.Context, address, length uint64) error {
	if err := l.backend.record(SimOp{Op: OpErase, Address: address, Length: length}); err != nil {
		return err
	}
	l.backend.mu.Lock()
	for a := address; a < address+length; a++ {
		delete(l.backend.mem, a)
	}
	l.backend.mu.Unlock()
	return nil
}

func (l *simLink) Stage(ctx context.Context, b Block) (StagedBlock, error) {
	if err := ctx.Err(); err != nil {
		return StagedBlock{}, err
	}
	if err := l.backend.record(SimOp{Op: OpStage, Address: b.Address, Length: uint64(len(b.Data))}); err != nil {
		return StagedBlock{}, err
	}
	data := append([]byte(nil), b.Data...)
	return StagedBlock{Block: Block{Address: b.Address, Data: data}}, nil
}

func (l *simLink) Program(ctx context.Context, b StagedBlock) error {
	if err := l.backend.record(SimOp{Op: OpProgram, Address: b.Address, Length: uint64(len(b.Data))}); err != nil {
		return err
	}
	l.backend.Write(b.Address, b.Data)
	return nil
}

func (l *simLink) Run(ctx context.Context) error {
	return l.backend.record(SimOp{Op: OpRun})
}

func (l *simLink) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return l.backend.record(SimOp{Op: OpClose})
}
