package flash

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rstlink/rst/internal/firmware"
	"github.com/rstlink/rst/internal/logging"
	"github.com/rstlink/rst/internal/session"
)

// Target is the set of flash primitives a download needs.
// *session.Session implements it.
type Target interface {
	Halt(ctx context.Context) error
	EraseAll(ctx context.Context) error
	EraseRange(ctx context.Context, address, length uint64) error
	Transfer(ctx context.Context, b session.Block) (session.StagedBlock, error)
	Program(ctx context.Context, b session.StagedBlock) error
	Run(ctx context.Context) error
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provisioner) {
		p.logger = logger
	}
}

// WithProgress sets the progress callback. Events are only delivered when
// the plan enables progress.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Provisioner) {
		p.progress = fn
	}
}

// Provisioner downloads images to a target.
type Provisioner struct {
	target   Target
	logger   *zap.Logger
	progress ProgressFunc
}

// New creates a provisioner for target.
func New(target Target, opts ...Option) *Provisioner {
	p := &Provisioner{target: target, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision loads path as format and downloads it. File and parse errors
// are returned before the target is touched.
func (p *Provisioner) Provision(ctx context.Context, path string, format firmware.Format, plan Plan) (*Report, error) {
	img, err := firmware.Load(path, format)
	if err != nil {
		return nil, err
	}
	p.logger.Info("image loaded",
		zap.String("path", path),
		zap.Stringer("format", format),
		zap.Int("segments", len(img.Segments)),
		zap.Int("bytes", img.Size()),
	)
	return p.Write(ctx, img, plan)
}

// Write downloads an already decoded image.
func (p *Provisioner) Write(ctx context.Context, img *firmware.Image, plan Plan) (*Report, error) {
	start := time.Now()
	if plan.BlockSize <= 0 {
		plan.BlockSize = DefaultBlockSize
	}

	blocks := Split(img.Segments, plan.BlockSize)
	lo, hi := img.Span()
	report := &Report{
		Path:            img.Path,
		Segments:        len(img.Segments),
		Blocks:          len(blocks),
		Bytes:           img.Size(),
		ChipErase:       plan.ChipErase,
		DoubleBuffering: plan.DoubleBuffering,
		LowAddress:      lo,
		HighAddress:     hi,
	}
	emit := p.emitter(plan)

	if err := p.target.Halt(ctx); err != nil {
		return nil, err
	}

	if err := p.erase(ctx, img, plan, emit); err != nil {
		return nil, err
	}

	var err error
	if plan.DoubleBuffering {
		err = p.downloadOverlapped(ctx, blocks, report.Bytes, emit)
	} else {
		err = p.downloadSequential(ctx, blocks, report.Bytes, emit)
	}
	if err != nil {
		p.logger.Error("download aborted", zap.Error(err))
		return nil, err
	}

	if err := p.target.Run(ctx); err != nil {
		return nil, err
	}

	report.Elapsed = time.Since(start)
	emit(Event{Phase: PhaseComplete, Done: 1, Total: 1, Bytes: report.Bytes, TotalBytes: report.Bytes})
	p.logger.Info("download complete",
		zap.Int("blocks", report.Blocks),
		zap.Int("bytes", report.Bytes),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (p *Provisioner) emitter(plan Plan) ProgressFunc {
	if !plan.Progress || p.progress == nil {
		return func(Event) {}
	}
	return p.progress
}

// erase runs every erase before the first write.
func (p *Provisioner) erase(ctx context.Context, img *firmware.Image, plan Plan, emit ProgressFunc) error {
	if plan.ChipErase {
		emit(Event{Phase: PhaseErase, Done: 0, Total: 1})
		if err := p.target.EraseAll(ctx); err != nil {
			return err
		}
		emit(Event{Phase: PhaseErase, Done: 1, Total: 1})
		return nil
	}

	total := len(img.Segments)
	emit(Event{Phase: PhaseErase, Done: 0, Total: total})
	for i, seg := range img.Segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.logger.Debug("erasing segment range", logging.Hex("address", seg.Address), zap.Int("bytes", len(seg.Data)))
		if err := p.target.EraseRange(ctx, seg.Address, uint64(len(seg.Data))); err != nil {
			return err
		}
		emit(Event{Phase: PhaseErase, Done: i + 1, Total: total})
	}
	return nil
}

// downloadSequential transfers and programs one block at a time.
func (p *Provisioner) downloadSequential(ctx context.Context, blocks []session.Block, totalBytes int, emit ProgressFunc) error {
	written := 0
	emit(Event{Phase: PhaseProgram, Total: len(blocks), TotalBytes: totalBytes})
	for i, b := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		staged, err := p.target.Transfer(ctx, b)
		if err != nil {
			return err
		}
		if err := p.target.Program(ctx, staged); err != nil {
			return err
		}
		written += len(b.Data)
		emit(Event{Phase: PhaseProgram, Done: i + 1, Total: len(blocks), Bytes: written, TotalBytes: totalBytes})
	}
	return nil
}

// downloadOverlapped stages block n+1 while block n is programmed. The
// unbuffered hand-off keeps at most one staged block waiting.
func (p *Provisioner) downloadOverlapped(ctx context.Context, blocks []session.Block, totalBytes int, emit ProgressFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	staged := make(chan session.StagedBlock)

	g.Go(func() error {
		defer close(staged)
		for _, b := range blocks {
			sb, err := p.target.Transfer(gctx, b)
			if err != nil {
				return err
			}
			select {
			case staged <- sb:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		written, done := 0, 0
		emit(Event{Phase: PhaseProgram, Total: len(blocks), TotalBytes: totalBytes})
		for sb := range staged {
			if err := p.target.Program(gctx, sb); err != nil {
				return err
			}
			done++
			written += len(sb.Data)
			emit(Event{Phase: PhaseProgram, Done: done, Total: len(blocks), Bytes: written, TotalBytes: totalBytes})
		}
		return gctx.Err()
	})

	return g.Wait()
}

// Split cuts segments into blocks of at most size bytes, in segment order.
func Split(segs []firmware.Segment, size int) []session.Block {
	var blocks []session.Block
	for _, s := range segs {
		for off := 0; off < len(s.Data); off += size {
			end := off + size
			if end > len(s.Data) {
				end = len(s.Data)
			}
			blocks = append(blocks, session.Block{Address: s.Address + uint64(off), Data: s.Data[off:end]})
		}
	}
	return blocks
}
