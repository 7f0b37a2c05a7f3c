// Package scheduler owns the registry of monitored variables and decides,
// on every tick, which of them emit a sample.
//
// A variable is sampled when
//
//	elapsed >= MinPeriod && |current - last| > Threshold
//
// or when MaxPeriod is set and elapsed > MaxPeriod, or on the very first
// tick after construction (cold start). Sampled values are pushed to the
// buffer tier; the scheduler never blocks and never retries a push.
package scheduler
