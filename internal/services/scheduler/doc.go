// Package scheduler is the job registry: it maps (cron spec, timezone,
// handler) tuples onto firings and isolates every firing in its own
// failure boundary.
//
// A panicking or erroring handler is logged with its job name and
// swallowed; it never affects other jobs or later firings of itself.
// Missed-firing correctness is not this package's concern: the startup
// reconciler repairs time the process spent down.
package scheduler
