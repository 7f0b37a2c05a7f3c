package telemetry

import (
	"strings"
	"unicode/utf8"
)

// MaxNameLen is the maximum number of bytes of a variable name carried in
// a Sample. Longer names are truncated at capture time.
const MaxNameLen = 15

// ReservedNameChars may not appear in a variable name: they would split
// the name's CSV line in the overflow store.
const ReservedNameChars = ",\r\n"

// ValidName reports whether name can round-trip through the line codec.
func ValidName(name string) bool {
	return !strings.ContainsAny(name, ReservedNameChars)
}

// Sample is one timestamped, named, integer-valued measurement.
//
// Samples are values: they are copied into the memory queue and encoded
// into the overflow store, never shared by pointer.
type Sample struct {
	Name       string `json:"name"`
	VariableID int    `json:"variable_id"`
	Value      int    `json:"value"`
	Timestamp  int64  `json:"timestamp"` // epoch seconds supplied by the tick caller
}

// NewSample builds a Sample, truncating name to MaxNameLen bytes.
func NewSample(name string, variableID, value int, timestamp int64) Sample {
	return Sample{
		Name:       TruncateName(name),
		VariableID: variableID,
		Value:      value,
		Timestamp:  timestamp,
	}
}

// TruncateName cuts name to at most MaxNameLen bytes without splitting
// a multi-byte rune.
func TruncateName(name string) string {
	if len(name) <= MaxNameLen {
		return name
	}
	cut := MaxNameLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}
