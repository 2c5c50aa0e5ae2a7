// Package session attaches to a target chip through a probe and exposes
// its cores and flash primitives for the length of one command.
//
// The probe protocol is provided by a Backend. Manager resolves the target
// name against the catalog, asks the backend for a Link and wraps it in a
// Session:
//
//	mgr := session.NewManager(openocd.NewBackend(cfg, logger), catalog, logger)
//	sess, err := mgr.Attach(ctx, desc, "stm32f407vg", session.Permissions{})
//	if err != nil {
//	    return err // *AttachError
//	}
//	defer sess.Close()
//
//	core, err := sess.Core(0) // *IndexOutOfRangeError if absent
//
// Flash primitive failures surface as *FlashIOError. SimBackend is an
// in-memory backend for tests and dry runs.
package session
