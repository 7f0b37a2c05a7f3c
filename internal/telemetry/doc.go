// Package telemetry holds the types shared by every stage of the agent
// pipeline: the Sample record, the overflow/history CSV line codec, the
// error taxonomy and the error sinks that replace a global debug manager.
//
// # Samples
//
// A Sample is an immutable, timestamped integer measurement. Names are
// truncated to MaxNameLen bytes when the sample is built so that every
// stage (memory queue, overflow file, wire message) sees the same name.
//
//	s := telemetry.NewSample("temperature_sensor", 3, 215, 1700000000)
//	// s.Name == "temperature_sen"
//
// # Errors
//
// Sentinel errors are wrapped with fmt.Errorf("%w: ...") and checked with
// errors.Is. Components never halt the host: failures are reported to a
// Sink and the pipeline continues on its next tick.
package telemetry
