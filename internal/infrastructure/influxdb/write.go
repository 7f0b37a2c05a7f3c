package influxdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// timestampSuffix marks the field carrying a variable's timestamp.
const timestampSuffix = "_timestamp"

// Metric is one variable decoded from a metrics message.
type Metric struct {
	Asset     string
	Name      string
	Value     int64
	Timestamp time.Time
}

// DecodeMessage parses a metrics message of the form
//
//	{"metrics": {"assetName": "<asset>","<var>": <value>,"<var>_timestamp": <ms>}}
//
// into one Metric per variable.
func DecodeMessage(payload []byte) ([]Metric, error) {
	var msg struct {
		Metrics map[string]json.RawMessage `json:"metrics"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	var asset string
	if raw, ok := msg.Metrics["assetName"]; ok {
		if err := json.Unmarshal(raw, &asset); err != nil {
			return nil, fmt.Errorf("%w: assetName: %w", ErrInvalidMessage, err)
		}
	}

	var metrics []Metric
	for key, raw := range msg.Metrics {
		if key == "assetName" || strings.HasSuffix(key, timestampSuffix) {
			continue
		}
		var value json.Number
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, key, err)
		}
		v, err := value.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, key, err)
		}

		m := Metric{Asset: asset, Name: key, Value: v, Timestamp: time.Now()}
		if rawTS, ok := msg.Metrics[key+timestampSuffix]; ok {
			var ts json.Number
			if err := json.Unmarshal(rawTS, &ts); err != nil {
				return nil, fmt.Errorf("%w: %s%s: %w", ErrInvalidMessage, key, timestampSuffix, err)
			}
			ms, err := ts.Int64()
			if err != nil {
				return nil, fmt.Errorf("%w: %s%s: %w", ErrInvalidMessage, key, timestampSuffix, err)
			}
			m.Timestamp = time.UnixMilli(ms)
		}
		metrics = append(metrics, m)
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("%w: no variables", ErrInvalidMessage)
	}
	return metrics, nil
}

// Publish decodes a metrics message and writes one point per variable,
// waiting for the server to confirm. It satisfies transmit.Publisher.
//
// Points are written to the configured measurement, tagged with the asset
// name, with the variable name as the field key.
func (c *Client) Publish(ctx context.Context, payload []byte) error {
	metrics, err := DecodeMessage(payload)
	if err != nil {
		return err
	}

	points := make([]*write.Point, 0, len(metrics))
	for _, m := range metrics {
		points = append(points, write.NewPoint(
			c.cfg.Measurement,
			map[string]string{"asset": m.Asset},
			map[string]interface{}{m.Name: m.Value},
			m.Timestamp,
		))
	}

	if err := c.writeAPI.WritePoint(ctx, points...); err != nil {
		c.setConnected(false)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	c.setConnected(true)
	return nil
}
