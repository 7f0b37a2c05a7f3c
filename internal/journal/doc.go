// Package journal records what the agent delivered and what went wrong.
//
// A Journal sits beside the pipeline, not in it. The transmission engine
// tells it about every confirmed delivery and the error sink forwards
// every pipeline event; both calls only enqueue, and Run writes the
// entries to SQLite in the background. When the queue is full entries are
// dropped and counted rather than slowing the sampling loop.
//
// Each process start opens a session, identified by a random UUID, so the
// history of restarts is visible next to the data they produced.
//
// # Usage
//
//	j, err := journal.New(ctx, db.DB, journal.Session{AssetName: "press-01"})
//	if err != nil {
//	    return err
//	}
//	go j.Run(ctx)
//
//	engine := transmit.New(queue, publisher, cfg, transmit.WithObserver(j))
//	tier.SetSink(telemetry.MultiSink{logSink, j})
package journal
