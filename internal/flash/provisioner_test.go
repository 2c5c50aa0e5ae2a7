package flash

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rstlink/rst/internal/firmware"
	"github.com/rstlink/rst/internal/session"
)

// recordingTarget journals every primitive. Program optionally sleeps so
// overlapping transfers become observable.
type recordingTarget struct {
	mu           sync.Mutex
	ops          []string
	programDelay time.Duration
	failOn       string
	failErr      error
}

func (r *recordingTarget) record(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	if r.failOn != "" && op == r.failOn {
		return r.failErr
	}
	return nil
}

func (r *recordingTarget) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *recordingTarget) Halt(ctx context.Context) error { return r.record("halt") }

func (r *recordingTarget) EraseAll(ctx context.Context) error { return r.record("erase-all") }

func (r *recordingTarget) EraseRange(ctx context.Context, address, length uint64) error {
	return r.record(fmt.Sprintf("erase %#x+%d", address, length))
}

func (r *recordingTarget) Transfer(ctx context.Context, b session.Block) (session.StagedBlock, error) {
	if err := r.record(fmt.Sprintf("transfer %#x", b.Address)); err != nil {
		return session.StagedBlock{}, err
	}
	return session.StagedBlock{Block: b}, nil
}

func (r *recordingTarget) Program(ctx context.Context, b session.StagedBlock) error {
	if err := r.record(fmt.Sprintf("program %#x", b.Address)); err != nil {
		return err
	}
	if r.programDelay > 0 {
		time.Sleep(r.programDelay)
	}
	return r.record(fmt.Sprintf("programmed %#x", b.Address))
}

func (r *recordingTarget) Run(ctx context.Context) error { return r.record("run") }

func testImage() *firmware.Image {
	return &firmware.Image{
		Format: firmware.FormatHex,
		Path:   "app.hex",
		Segments: []firmware.Segment{
			{Address: 0x08000000, Data: make([]byte, 10)},
			{Address: 0x08010000, Data: make([]byte, 4)},
		},
	}
}

func indexOf(ops []string, prefix string, last bool) int {
	idx := -1
	for i, op := range ops {
		if strings.HasPrefix(op, prefix) {
			idx = i
			if !last {
				return idx
			}
		}
	}
	return idx
}

func TestSplit(t *testing.T) {
	blocks := Split(testImage().Segments, 4)
	want := []struct {
		addr uint64
		n    int
	}{
		{0x08000000, 4}, {0x08000004, 4}, {0x08000008, 2}, {0x08010000, 4},
	}
	if len(blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d", len(blocks), len(want))
	}
	for i, w := range want {
		if blocks[i].Address != w.addr || len(blocks[i].Data) != w.n {
			t.Errorf("block %d = %#x+%d, want %#x+%d", i, blocks[i].Address, len(blocks[i].Data), w.addr, w.n)
		}
	}
}

func TestWriteSequential(t *testing.T) {
	tgt := &recordingTarget{}
	p := New(tgt, WithLogger(zap.NewNop()))

	report, err := p.Write(context.Background(), testImage(), Plan{BlockSize: 8})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want := []string{
		"halt",
		"erase 0x8000000+10",
		"erase 0x8010000+4",
		"transfer 0x8000000", "program 0x8000000", "programmed 0x8000000",
		"transfer 0x8000008", "program 0x8000008", "programmed 0x8000008",
		"transfer 0x8010000", "program 0x8010000", "programmed 0x8010000",
		"run",
	}
	if got := tgt.Ops(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops =\n%q\nwant\n%q", got, want)
	}
	if report.Blocks != 3 || report.Bytes != 14 || report.Segments != 2 {
		t.Errorf("report = %+v", report)
	}
	if report.LowAddress != 0x08000000 || report.HighAddress != 0x08010004 {
		t.Errorf("report span = %#x..%#x", report.LowAddress, report.HighAddress)
	}
}

func TestWriteChipErase(t *testing.T) {
	for _, double := range []bool{false, true} {
		t.Run(fmt.Sprintf("double=%v", double), func(t *testing.T) {
			tgt := &recordingTarget{}
			_, err := New(tgt).Write(context.Background(), testImage(), Plan{ChipErase: true, DoubleBuffering: double, BlockSize: 4})
			if err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			ops := tgt.Ops()

			eraseAll := 0
			for _, op := range ops {
				if op == "erase-all" {
					eraseAll++
				}
				if strings.HasPrefix(op, "erase ") {
					t.Errorf("range erase %q with chip erase", op)
				}
			}
			if eraseAll != 1 {
				t.Errorf("erase-all count = %d", eraseAll)
			}
			if e, w := indexOf(ops, "erase-all", true), indexOf(ops, "transfer", false); e > w {
				t.Errorf("erase at %d after first transfer at %d", e, w)
			}
			if ops[len(ops)-1] != "run" {
				t.Errorf("last op = %q, want run", ops[len(ops)-1])
			}
		})
	}
}

func TestWriteOverlapped(t *testing.T) {
	tgt := &recordingTarget{programDelay: 20 * time.Millisecond}
	img := &firmware.Image{Segments: []firmware.Segment{{Address: 0x08000000, Data: make([]byte, 16)}}}

	if _, err := New(tgt).Write(context.Background(), img, Plan{DoubleBuffering: true, BlockSize: 4}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	ops := tgt.Ops()

	// transfer of block n+1 lands while block n is still programming
	overlaps := 0
	for n := 0; n < 3; n++ {
		start := indexOf(ops, fmt.Sprintf("program %#x", 0x08000000+4*n), false)
		end := indexOf(ops, fmt.Sprintf("programmed %#x", 0x08000000+4*n), false)
		next := indexOf(ops, fmt.Sprintf("transfer %#x", 0x08000000+4*(n+1)), false)
		if start < 0 || end < 0 || next < 0 {
			t.Fatalf("missing ops for block %d: %q", n, ops)
		}
		if next > start && next < end {
			overlaps++
		}
	}
	if overlaps == 0 {
		t.Errorf("no transfer overlapped programming: %q", ops)
	}

	// programming order is preserved
	var programmed []string
	for _, op := range ops {
		if strings.HasPrefix(op, "programmed") {
			programmed = append(programmed, op)
		}
	}
	want := []string{"programmed 0x8000000", "programmed 0x8000004", "programmed 0x8000008", "programmed 0x800000c"}
	if !reflect.DeepEqual(programmed, want) {
		t.Errorf("programmed = %q", programmed)
	}
}

func TestWriteFailureAborts(t *testing.T) {
	boom := errors.New("flash timeout")

	for _, double := range []bool{false, true} {
		t.Run(fmt.Sprintf("double=%v", double), func(t *testing.T) {
			tgt := &recordingTarget{failOn: "program 0x8000004", failErr: boom}
			img := &firmware.Image{Segments: []firmware.Segment{{Address: 0x08000000, Data: make([]byte, 12)}}}

			_, err := New(tgt).Write(context.Background(), img, Plan{DoubleBuffering: double, BlockSize: 4})
			if !errors.Is(err, boom) {
				t.Fatalf("expected program failure, got %v", err)
			}
			ops := tgt.Ops()
			attempts := 0
			for _, op := range ops {
				if op == "program 0x8000004" {
					attempts++
				}
				if op == "run" || op == "program 0x8000008" {
					t.Errorf("unexpected %q after failure", op)
				}
			}
			if attempts != 1 {
				t.Errorf("failing block attempted %d times, want 1", attempts)
			}
		})
	}
}

func TestWriteEraseFailureSkipsWrites(t *testing.T) {
	boom := errors.New("erase timeout")
	tgt := &recordingTarget{failOn: "erase-all", failErr: boom}

	_, err := New(tgt).Write(context.Background(), testImage(), Plan{ChipErase: true, DoubleBuffering: true})
	if !errors.Is(err, boom) {
		t.Fatalf("expected erase failure, got %v", err)
	}
	if idx := indexOf(tgt.Ops(), "transfer", false); idx >= 0 {
		t.Errorf("transfer after failed erase: %q", tgt.Ops())
	}
}

func TestProvisionFileErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.hex")
	if err := os.WriteFile(bad, []byte(":0400000001020304F3\n:00000001FF\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("missing file", func(t *testing.T) {
		tgt := &recordingTarget{}
		_, err := New(tgt).Provision(context.Background(), filepath.Join(dir, "missing.elf"), firmware.FormatELF, Plan{ChipErase: true})
		var fe *firmware.FileError
		if !errors.As(err, &fe) || !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("expected FileError, got %v", err)
		}
		if ops := tgt.Ops(); len(ops) != 0 {
			t.Errorf("target touched: %q", ops)
		}
	})

	t.Run("parse failure", func(t *testing.T) {
		tgt := &recordingTarget{}
		_, err := New(tgt).Provision(context.Background(), bad, firmware.FormatHex, Plan{ChipErase: true})
		var pe *firmware.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("expected ParseError, got %v", err)
		}
		if ops := tgt.Ops(); len(ops) != 0 {
			t.Errorf("target touched: %q", ops)
		}
	})
}

func TestProgressEvents(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		var events []Event
		p := New(&recordingTarget{}, WithProgress(func(e Event) { events = append(events, e) }))
		if _, err := p.Write(context.Background(), testImage(), Plan{BlockSize: 4}); err != nil {
			t.Fatal(err)
		}
		if len(events) != 0 {
			t.Errorf("got %d events with progress disabled", len(events))
		}
	})

	t.Run("enabled", func(t *testing.T) {
		var (
			mu     sync.Mutex
			events []Event
		)
		p := New(&recordingTarget{}, WithProgress(func(e Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}))
		if _, err := p.Write(context.Background(), testImage(), Plan{BlockSize: 4, Progress: true, DoubleBuffering: true}); err != nil {
			t.Fatal(err)
		}

		mu.Lock()
		defer mu.Unlock()
		last := events[len(events)-1]
		if last.Phase != PhaseComplete || last.Bytes != 14 {
			t.Errorf("last event = %+v", last)
		}

		var prog []Event
		for _, e := range events {
			if e.Phase == PhaseProgram {
				prog = append(prog, e)
			}
		}
		final := prog[len(prog)-1]
		if final.Done != 4 || final.Total != 4 || final.Bytes != 14 || final.TotalBytes != 14 {
			t.Errorf("final program event = %+v", final)
		}
		if final.Fraction() != 1 {
			t.Errorf("Fraction() = %v", final.Fraction())
		}
	})
}

func TestWriteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tgt := &recordingTarget{}
	_, err := New(tgt).Write(ctx, testImage(), Plan{BlockSize: 4})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if idx := indexOf(tgt.Ops(), "transfer", false); idx >= 0 {
		t.Errorf("transfer after cancellation: %q", tgt.Ops())
	}
}
