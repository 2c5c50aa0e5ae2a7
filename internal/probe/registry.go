package probe

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Lister enumerates attached probes.
type Lister interface {
	List(ctx context.Context) ([]Descriptor, error)
}

// ListerFunc adapts a function to the Lister interface.
type ListerFunc func(ctx context.Context) ([]Descriptor, error)

// List calls f(ctx).
func (f ListerFunc) List(ctx context.Context) ([]Descriptor, error) {
	return f(ctx)
}

// Registry resolves probes from a Lister.
type Registry struct {
	lister Lister
	logger *zap.Logger
}

// NewRegistry creates a registry backed by lister.
func NewRegistry(lister Lister, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{lister: lister, logger: logger}
}

// ListAll returns every probe the lister reports, unfiltered.
func (r *Registry) ListAll(ctx context.Context) ([]Descriptor, error) {
	list, err := r.lister.List(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("enumerated probes", zap.Int("count", len(list)))
	return list, nil
}

// FindBySerial returns the first probe whose serial equals serial.
func FindBySerial(list []Descriptor, serial string) (Descriptor, error) {
	for _, d := range list {
		if d.HasSerial() && d.Serial == serial {
			return d, nil
		}
	}
	return Descriptor{}, &DeviceNotFoundError{
		Criteria:  fmt.Sprintf("serial number %s", serial),
		Available: serials(list),
	}
}

// FilterByIdentity returns the probes matching vendor and product, in
// enumeration order. An empty result is not an error.
func FilterByIdentity(list []Descriptor, vendor uint16, product int32) []Descriptor {
	out := make([]Descriptor, 0, len(list))
	for _, d := range list {
		if d.Matches(vendor, product) {
			out = append(out, d)
		}
	}
	return out
}

// Selector is a probe resolution strategy.
type Selector interface {
	// Select picks exactly one probe from list.
	Select(list []Descriptor) (Descriptor, error)
	// String describes the criteria for messages.
	String() string
}

type serialSelector string

// BySerial selects the probe with the given serial number.
func BySerial(serial string) Selector {
	return serialSelector(serial)
}

func (s serialSelector) Select(list []Descriptor) (Descriptor, error) {
	return FindBySerial(list, string(s))
}

func (s serialSelector) String() string {
	return fmt.Sprintf("serial %q", string(s))
}

type identitySelector struct {
	vendor  uint16
	product int32
}

// ByIdentity selects the only probe with the given vendor and product id.
// More than one match is an AmbiguousProbeError.
func ByIdentity(vendor uint16, product int32) Selector {
	return identitySelector{vendor: vendor, product: product}
}

func (s identitySelector) Select(list []Descriptor) (Descriptor, error) {
	matches := FilterByIdentity(list, s.vendor, s.product)
	switch len(matches) {
	case 0:
		return Descriptor{}, &DeviceNotFoundError{Criteria: s.String(), Available: serials(list)}
	case 1:
		return matches[0], nil
	default:
		return Descriptor{}, &AmbiguousProbeError{Criteria: s.String(), Matches: matches}
	}
}

func (s identitySelector) String() string {
	if s.product == AnyProduct {
		return fmt.Sprintf("vendor id %04x", s.vendor)
	}
	return fmt.Sprintf("id %04x:%04x", s.vendor, uint16(s.product))
}

type indexSelector struct {
	identitySelector
	index int
}

// ByIndex selects the probe at position index among those matching the
// identity, in enumeration order.
func ByIndex(vendor uint16, product int32, index int) Selector {
	return indexSelector{identitySelector{vendor: vendor, product: product}, index}
}

func (s indexSelector) Select(list []Descriptor) (Descriptor, error) {
	matches := FilterByIdentity(list, s.vendor, s.product)
	if s.index < 0 || s.index >= len(matches) {
		return Descriptor{}, &DeviceNotFoundError{Criteria: s.String(), Available: serials(matches)}
	}
	return matches[s.index], nil
}

func (s indexSelector) String() string {
	return fmt.Sprintf("index %d among %s", s.index, s.identitySelector.String())
}

// Resolve enumerates probes and applies sel.
func (r *Registry) Resolve(ctx context.Context, sel Selector) (Descriptor, error) {
	list, err := r.ListAll(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	d, err := sel.Select(list)
	if err != nil {
		r.logger.Debug("probe resolution failed", zap.Stringer("selector", sel), zap.Error(err))
		return Descriptor{}, err
	}
	r.logger.Info("probe resolved",
		zap.Stringer("selector", sel),
		zap.String("serial", d.Serial),
		zap.String("id", d.ID()),
	)
	return d, nil
}

func serials(list []Descriptor) []string {
	var out []string
	for _, d := range list {
		if d.HasSerial() {
			out = append(out, d.Serial)
		}
	}
	return out
}
