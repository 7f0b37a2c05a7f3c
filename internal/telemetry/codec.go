package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// CSVHeader is the first line of every overflow file and history download.
const CSVHeader = "VarName,Value,TimeStamp"

// Record is one decoded CSV line. Value and Timestamp are kept as text
// because history downloads are not guaranteed to carry integers.
type Record struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
}

// EncodeLine renders s as "<name>,<value>,<timestamp>" without a newline.
// The separator is not escaped; names come from registered variables.
func EncodeLine(s Sample) string {
	return s.Name + "," + strconv.Itoa(s.Value) + "," + strconv.FormatInt(s.Timestamp, 10)
}

// ParseRecord splits a CSV line into its three fields.
// A trailing carriage return is ignored.
func ParseRecord(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return Record{}, fmt.Errorf("%w: %q", ErrMalformedRecord, line)
	}
	return Record{Name: parts[0], Value: parts[1], Timestamp: parts[2]}, nil
}

// DecodeLine parses a line written by EncodeLine back into a Sample.
// VariableID is not part of the line format and is returned as -1.
func DecodeLine(line string) (Sample, error) {
	rec, err := ParseRecord(line)
	if err != nil {
		return Sample{}, err
	}
	return rec.Sample()
}

// Sample converts r into a Sample. Value and Timestamp must be integers.
func (r Record) Sample() (Sample, error) {
	value, err := strconv.Atoi(strings.TrimSpace(r.Value))
	if err != nil {
		return Sample{}, fmt.Errorf("%w: value %q", ErrMalformedRecord, r.Value)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(r.Timestamp), 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRecord, r.Timestamp)
	}
	return Sample{Name: r.Name, VariableID: -1, Value: value, Timestamp: ts}, nil
}

// IsHeader reports whether line is the CSV header row.
func IsHeader(line string) bool {
	return strings.TrimRight(line, "\r\n") == CSVHeader
}
