// Package scheduler drives an ordered list of suites through a Runner with a
// bounded number of suites in flight.
//
// A fixed pool of workers claims suites from a shared cursor in expansion
// order. The cursor, the in-flight count and the run's failure are guarded by
// one mutex, so a claim can never succeed after a failure has been recorded
// and the pool never exceeds its ceiling.
//
// The first suite that does not pass, or that returns an error, fails the
// whole run: the run context is cancelled, no further suite is claimed, and
// Run returns immediately without waiting for suites that are still in
// flight. Remote jobs that were already submitted are not cancelled.
package scheduler
