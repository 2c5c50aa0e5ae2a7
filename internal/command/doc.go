// Package command turns one validated CLI invocation into probe, session,
// memory and flash calls.
//
// A Command is exactly one of *List, *Reset, *Dump, *Erase or *Download.
// Router.Run validates it before anything touches USB, then resolves the
// probe by serial, attaches, performs the operation and closes the session.
package command
