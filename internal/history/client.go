package history

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/config"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

const (
	defaultTimeout = 30 * time.Second

	// maxBodySize caps a download; a day of one-second samples is ~2 MB.
	maxBodySize = 16 << 20
)

// Client fetches history for one machine.
type Client struct {
	endpoint    string
	cookie      string
	token       string
	machineCode string
	http        *http.Client
}

// New returns a client for the machine identified by machineCode.
func New(cfg config.HistoryConfig, machineCode string) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		cookie:      cfg.SessionCookie,
		token:       cfg.AuthToken,
		machineCode: machineCode,
		http:        &http.Client{Timeout: timeout},
	}
}

// URL expands the endpoint template for one variable and time window.
func (c *Client) URL(device, variable string, from, to int64) string {
	return strings.NewReplacer(
		"{{clientidnum}}", c.machineCode,
		"{{device}}", device,
		"{{varname}}", variable,
		"{{tsini}}", strconv.FormatInt(from, 10),
		"{{tsend}}", strconv.FormatInt(to, 10),
	).Replace(c.endpoint)
}

// Download fetches the records of variable on device between from and to
// (epoch seconds). Any non-2xx response is ErrRetrievalFailed.
func (c *Client) Download(ctx context.Context, device, variable string, from, to int64) ([]telemetry.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(device, variable, from, to), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", telemetry.ErrRetrievalFailed, err)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", telemetry.ErrRetrievalFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", telemetry.ErrRetrievalFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", telemetry.ErrRetrievalFailed, resp.StatusCode)
	}

	return Parse(body)
}

// Parse splits a CSV body into records. Blank lines and the header line
// are skipped; a line without three fields is ErrMalformedRecord.
func Parse(body []byte) ([]telemetry.Record, error) {
	var records []telemetry.Record

	sc := bufio.NewScanner(bytes.NewReader(body))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || telemetry.IsHeader(text) {
			continue
		}
		r, err := telemetry.ParseRecord(text)
		if err != nil {
			return records, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("%w: %w", telemetry.ErrRetrievalFailed, err)
	}
	return records, nil
}

// Format renders records as a "name | value | timestamp" table.
func Format(records []telemetry.Record) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%s | %s | %s\n", r.Name, r.Value, r.Timestamp)
	}
	return b.String()
}
