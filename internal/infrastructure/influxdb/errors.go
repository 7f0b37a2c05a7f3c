package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, influxdb.ErrNotConnected) {
//	    // Handle disconnected state
//	}
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates a connection attempt or ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed indicates a write was not confirmed by the server.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrInvalidMessage indicates a payload that is not a metrics message.
	ErrInvalidMessage = errors.New("influxdb: invalid metrics message")
)
