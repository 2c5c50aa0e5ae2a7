package probe

import (
	"context"
	"errors"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

// USBLister enumerates ST devices on the USB bus.
type USBLister struct {
	vendor uint16
	logger *zap.Logger
}

// NewUSBLister creates a lister for the ST vendor id.
func NewUSBLister(logger *zap.Logger) *USBLister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &USBLister{vendor: VendorST, logger: logger}
}

// List opens every device carrying the vendor id long enough to read its
// string descriptors. Devices the user may not open are still reported,
// without serial or product strings.
func (l *USBLister) List(ctx context.Context) ([]Descriptor, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	var seen []Descriptor
	devs, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if uint16(desc.Vendor) != l.vendor {
			return false
		}
		seen = append(seen, Descriptor{
			VendorID:   uint16(desc.Vendor),
			ProductID:  uint16(desc.Product),
			Identifier: ModelName(uint16(desc.Product)),
			Bus:        desc.Bus,
			Address:    desc.Address,
		})
		return true
	})
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	if err != nil && !errors.Is(err, gousb.ErrorAccess) {
		return nil, &EnumerationError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, dev := range devs {
		for i := range seen {
			if seen[i].Bus != dev.Desc.Bus || seen[i].Address != dev.Desc.Address {
				continue
			}
			if serial, err := dev.SerialNumber(); err == nil {
				seen[i].Serial = serial
			} else {
				l.logger.Debug("serial number unreadable",
					zap.Int("bus", dev.Desc.Bus), zap.Int("address", dev.Desc.Address), zap.Error(err))
			}
			if product, err := dev.Product(); err == nil && product != "" && !IsSTLink(seen[i].ProductID) {
				seen[i].Identifier = product
			}
		}
	}

	l.logger.Debug("usb enumeration complete", zap.Int("devices", len(seen)), zap.Int("opened", len(devs)))
	return seen, nil
}
