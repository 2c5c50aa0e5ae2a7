package probe

import "fmt"

// VendorST is the USB vendor id used by every ST-Link variant.
const VendorST uint16 = 0x0483

// AnyProduct matches every product id in identity filters.
const AnyProduct int32 = -1

// Descriptor identifies one attached probe. It is a snapshot taken at
// enumeration time and is never mutated.
type Descriptor struct {
	VendorID   uint16
	ProductID  uint16
	Serial     string
	Identifier string
	Bus        int
	Address    int
}

// HasSerial reports whether the probe exposed a serial number.
func (d Descriptor) HasSerial() bool {
	return d.Serial != ""
}

// ID formats the vendor and product ids as vvvv:pppp.
func (d Descriptor) ID() string {
	return fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID)
}

// Matches reports whether the descriptor carries the given identity.
// A product of AnyProduct matches every product id.
func (d Descriptor) Matches(vendor uint16, product int32) bool {
	if d.VendorID != vendor {
		return false
	}
	return product == AnyProduct || uint16(product) == d.ProductID
}

func (d Descriptor) String() string {
	serial := d.Serial
	if serial == "" {
		serial = "<none>"
	}
	return fmt.Sprintf("%s (serial: %s)", d.Identifier, serial)
}

// stlinkModels maps ST-Link product ids to their marketing names.
var stlinkModels = map[uint16]string{
	0x3744: "ST-Link/V1",
	0x3748: "ST-Link/V2",
	0x374a: "ST-Link/V2-1",
	0x374b: "ST-Link/V2-1",
	0x3752: "ST-Link/V2-1",
	0x374d: "ST-Link/V3 Loader",
	0x374e: "ST-Link/V3",
	0x374f: "ST-Link/V3",
	0x3753: "ST-Link/V3",
	0x3754: "ST-Link/V3",
	0x3757: "ST-Link/V3PWR",
}

// ModelName returns a human readable name for an ST product id.
func ModelName(product uint16) string {
	if name, ok := stlinkModels[product]; ok {
		return name
	}
	return fmt.Sprintf("ST device %04x", product)
}

// IsSTLink reports whether the product id is a known ST-Link.
func IsSTLink(product uint16) bool {
	_, ok := stlinkModels[product]
	return ok
}
