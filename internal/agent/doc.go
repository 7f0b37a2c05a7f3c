// Package agent assembles the telemetry pipeline behind one facade.
//
// An Agent owns a sampling scheduler, a two-tier buffer and a transmission
// engine. The host registers variables, then either drives the pipeline
// itself with SchedulerTick and TransmissionTick or calls Run, which
// starts the producer and consumer loops on their own goroutines:
//
//	a := agent.New(cfg, publisher, agent.WithLogger(log))
//	a.RegisterVar("temp", readTemp, 5*time.Second, 2, time.Minute)
//	err := a.Run(ctx, client.IsConnected)
//
// # Goroutines
//
// The producer loop samples and owns the overflow file. The consumer loop
// sends. The memory queue is the only structure they share.
package agent
