package command

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/rstlink/rst/internal/flash"
	"github.com/rstlink/rst/internal/memory"
	"github.com/rstlink/rst/internal/probe"
	"github.com/rstlink/rst/internal/session"
)

// Result carries what a command produced, for the caller's summary.
type Result struct {
	Probes []probe.Descriptor
	Probe  probe.Descriptor
	Target string
	Dump   *memory.Dump
	Report *flash.Report
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithProgress sets the callback for download progress events.
func WithProgress(fn flash.ProgressFunc) Option {
	return func(r *Router) {
		r.progress = fn
	}
}

// Router runs commands against probes and sessions. Command data (probe
// lists, dumps) is written to out.
type Router struct {
	registry *probe.Registry
	sessions *session.Manager
	out      io.Writer
	logger   *zap.Logger
	progress flash.ProgressFunc
}

// NewRouter creates a router.
func NewRouter(registry *probe.Registry, sessions *session.Manager, out io.Writer, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		sessions: sessions,
		out:      out,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run validates cmd and executes it.
func (r *Router) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd == nil {
		return nil, &UsageError{Msg: "no command given (expected list, reset, dump, erase or download)"}
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	r.logger.Debug("running command", zap.String("command", cmd.Name()))

	switch c := cmd.(type) {
	case *List:
		return r.list(ctx, c)
	case *Reset:
		return r.withSession(ctx, c.Selection, session.Permissions{}, func(s *session.Session, res *Result) error {
			core, err := s.Core(c.Core)
			if err != nil {
				return err
			}
			return core.Reset(ctx)
		})
	case *Dump:
		return r.withSession(ctx, c.Selection, session.Permissions{}, func(s *session.Session, res *Result) error {
			core, err := s.Core(c.Core)
			if err != nil {
				return err
			}
			d, err := memory.ReadWords(ctx, core, c.address, c.count)
			if err != nil {
				return err
			}
			res.Dump = d
			return d.Write(r.out)
		})
	case *Erase:
		return r.withSession(ctx, c.Selection, session.Permissions{AllowEraseAll: c.AllowEraseAll}, func(s *session.Session, res *Result) error {
			return s.EraseAll(ctx)
		})
	case *Download:
		return r.withSession(ctx, c.Selection, session.Permissions{AllowEraseAll: c.AllowEraseAll}, func(s *session.Session, res *Result) error {
			plan := flash.Plan{
				ChipErase:       c.ChipErase,
				DoubleBuffering: c.DoubleBuffering,
				Progress:        c.Progress,
				BlockSize:       c.BlockSize,
			}
			p := flash.New(s, flash.WithLogger(r.logger), flash.WithProgress(r.progress))
			report, err := p.Provision(ctx, c.Path, c.FirmwareFormat(), plan)
			if err != nil {
				return err
			}
			res.Report = report
			return nil
		})
	default:
		return nil, &UsageError{Msg: fmt.Sprintf("unsupported command %q", cmd.Name())}
	}
}

func (r *Router) list(ctx context.Context, c *List) (*Result, error) {
	all, err := r.registry.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	product := probe.AnyProduct
	if c.ProductID != nil {
		product = int32(*c.ProductID)
	}
	matches := probe.FilterByIdentity(all, probe.VendorST, product)

	for i, d := range matches {
		if _, err := fmt.Fprintf(r.out, "%d: %s Bus %03d Device %03d ID %s\n", i, d, d.Bus, d.Address, d.ID()); err != nil {
			return nil, err
		}
	}
	return &Result{Probes: matches}, nil
}

// withSession resolves the probe by serial, attaches, runs fn and closes
// the session. The probe is resolved before anything is opened.
func (r *Router) withSession(ctx context.Context, sel Selection, perms session.Permissions, fn func(*session.Session, *Result) error) (res *Result, err error) {
	desc, err := r.registry.Resolve(ctx, probe.BySerial(sel.Serial))
	if err != nil {
		return nil, err
	}

	s, err := r.sessions.Attach(ctx, desc, sel.Target, perms)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			r.logger.Warn("failed to close session", zap.Error(cerr))
		}
	}()

	res = &Result{Probe: desc, Target: s.Target().Name}
	if err := fn(s, res); err != nil {
		r.logger.Debug("command failed", zap.String("serial", desc.Serial), zap.Error(err))
		return nil, err
	}
	return res, nil
}
