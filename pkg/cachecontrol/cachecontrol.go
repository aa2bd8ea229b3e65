// Package cachecontrol invalidates OS page-cache state for benchmark files.
//
// Dropping the cache is an OS-level side channel, not a portable
// computation: it affects timing only, and reads must succeed identically
// with or without it. The advisory call is isolated behind the Dropper
// interface with a no-op fallback so benchmark logic stays
// platform-independent and testable without real disk I/O.
package cachecontrol

// Dropper invalidates cached pages for a file. Drop is called immediately
// before every timed cold-cache read and never mid-measurement.
type Dropper interface {
	Drop(path string) error
}

// Noop is a Dropper that does nothing, for platforms without an advisory
// call and for tests.
type Noop struct{}

// Drop implements Dropper.
func (Noop) Drop(string) error { return nil }

// New returns the platform's page-cache dropper, or Noop where no advisory
// call is available.
func New() Dropper { return newPlatform() }
