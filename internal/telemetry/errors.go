package telemetry

import "errors"

// Error taxonomy for the telemetry pipeline.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRegistryFull is returned when registering beyond the registry capacity.
	ErrRegistryFull = errors.New("telemetry: variable registry full")

	// ErrVariableNotFound is returned when modifying a variable that was never registered.
	ErrVariableNotFound = errors.New("telemetry: variable not found")

	// ErrInvalidVariable is returned when a variable definition fails validation.
	ErrInvalidVariable = errors.New("telemetry: invalid variable")

	// ErrBufferFull is returned when a sample is lost because every tier refused it.
	ErrBufferFull = errors.New("telemetry: buffer full, sample lost")

	// ErrStorageIO is returned when the overflow store cannot be read or written.
	ErrStorageIO = errors.New("telemetry: overflow storage i/o error")

	// ErrDeliveryFailed is returned when the transport does not confirm a publish.
	ErrDeliveryFailed = errors.New("telemetry: delivery failed")

	// ErrRetrievalFailed is returned when a history download answers non-2xx.
	ErrRetrievalFailed = errors.New("telemetry: history retrieval failed")

	// ErrMalformedRecord is returned when a CSV line does not hold three fields.
	ErrMalformedRecord = errors.New("telemetry: malformed record")
)

// Kind names an error class for counters and sinks.
type Kind string

// Error kinds, one per sentinel error.
const (
	KindRegistryFull     Kind = "registry_full"
	KindVariableNotFound Kind = "variable_not_found"
	KindInvalidVariable  Kind = "invalid_variable"
	KindBufferFull       Kind = "buffer_full"
	KindStorageIO        Kind = "storage_io"
	KindDeliveryFailed   Kind = "delivery_failed"
	KindRetrievalFailed  Kind = "retrieval_failed"
	KindMalformedRecord  Kind = "malformed_record"
	KindOther            Kind = "other"
)

// KindOf maps an error to its Kind by walking the wrap chain.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRegistryFull):
		return KindRegistryFull
	case errors.Is(err, ErrVariableNotFound):
		return KindVariableNotFound
	case errors.Is(err, ErrInvalidVariable):
		return KindInvalidVariable
	case errors.Is(err, ErrBufferFull):
		return KindBufferFull
	case errors.Is(err, ErrStorageIO):
		return KindStorageIO
	case errors.Is(err, ErrDeliveryFailed):
		return KindDeliveryFailed
	case errors.Is(err, ErrRetrievalFailed):
		return KindRetrievalFailed
	case errors.Is(err, ErrMalformedRecord):
		return KindMalformedRecord
	default:
		return KindOther
	}
}
