// Package transmit drains the memory queue towards the remote collector.
//
// Each Engine.Tick moves at most one sample: it peeks the oldest sample,
// formats the wire message and publishes it. The sample is popped only
// after the publisher confirms delivery, so delivery is at-least-once.
//
// # Recovery
//
// A connection that turns healthy is not trusted straight away:
//
//	Disconnected --ok--> Recovering --ok for RecoveryDelay--> FullyOK
//	     ^                    |                                  |
//	     +-------!ok----------+---------------!ok----------------+
//
// Sends happen only in FullyOK. On entering FullyOK the transport is reset
// (if it implements Resetter) to drop stale session state.
//
// # Wire message
//
//	{"metrics": {"assetName": "press-01","temp": 215,"temp_timestamp": 1700000000000}}
//
// Timestamps have seconds resolution; the three trailing zeros only give
// them a millisecond shape.
package transmit
