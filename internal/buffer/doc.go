// Package buffer implements the two-tier sample buffer that sits between
// the sampling scheduler and the transmission engine.
//
// The tier is made of:
//   - Queue: a bounded FIFO in memory, shared by exactly one producer
//     goroutine (the scheduler) and one consumer goroutine (the engine)
//   - OverflowStore: an append-only CSV file with a read cursor, touched
//     only by the producer
//   - Tier: the push and drain policy tying both together
//
// # Ordering
//
// Once the overflow store holds a backlog, every new sample is appended
// behind it on disk, never pushed straight into memory. The backlog is
// moved back into the queue by Drain, at most min(free slots, backlog)
// records per call, so delivery order equals capture order across both
// tiers.
//
// # Loss
//
// A sample is lost only when the queue is full and the overflow store is
// disabled, or when the overflow store fails on a fresh file as well.
// Losses are counted and reported as telemetry.ErrBufferFull.
//
// # Overflow file format
//
//	VarName,Value,TimeStamp
//	temperature,215,1700000000
//	pressure,1013,1700000001
package buffer
