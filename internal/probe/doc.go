// Package probe enumerates ST-Link debug probes and resolves the one a
// command should talk to.
//
// Enumeration is delegated to a Lister. USBLister walks the USB bus with
// gousb and reports every device carrying the STMicroelectronics vendor id.
// Registry layers the selection rules on top:
//
//	reg := probe.NewRegistry(probe.NewUSBLister(logger), logger)
//	desc, err := reg.Resolve(ctx, probe.BySerial("0669FF485550755187121723"))
//
// A Selector is one of BySerial, ByIdentity or ByIndex. Resolution yields
// exactly one Descriptor or an error; it never opens a session.
package probe
