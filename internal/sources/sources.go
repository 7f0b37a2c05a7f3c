package sources

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/config"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/scheduler"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

// ErrUnknownSource is returned for a source name with no reader.
var ErrUnknownSource = errors.New("sources: unknown source")

const (
	defaultPollInterval = time.Second
	bytesPerMiB         = 1 << 20
)

// Reader takes one measurement.
type Reader func(ctx context.Context) (float64, error)

// cell caches the last measurement of one source.
type cell struct {
	bits atomic.Uint64
	ok   atomic.Bool
}

func (c *cell) load() float64 { return math.Float64frombits(c.bits.Load()) }

func (c *cell) store(v float64) {
	c.bits.Store(math.Float64bits(v))
	c.ok.Store(true)
}

// Poller refreshes the sources that variables use.
type Poller struct {
	interval time.Duration

	mu      sync.Mutex
	readers map[string]Reader
	active  map[string]*cell

	sink   telemetry.Sink
	logger telemetry.Logger
}

// New returns a poller with the built-in sources.
func New(cfg config.SourcesConfig) *Poller {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	diskPath := cfg.DiskPath
	if diskPath == "" {
		diskPath = "/"
	}

	p := &Poller{
		interval: interval,
		readers:  make(map[string]Reader),
		active:   make(map[string]*cell),
		sink:     telemetry.Discard,
		logger:   telemetry.NopLogger{},
	}
	p.Register("cpu.percent", cpuPercent)
	p.Register("mem.used_percent", memUsedPercent)
	p.Register("mem.available_mb", memAvailableMB)
	p.Register("disk.used_percent", diskUsedPercent(diskPath))
	p.Register("load.1", load1)
	p.Register("host.uptime", hostUptime)
	p.Register("runtime.goroutines", func(context.Context) (float64, error) {
		return float64(runtime.NumGoroutine()), nil
	})
	p.Register("runtime.heap_mb", func(context.Context) (float64, error) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return float64(ms.HeapInuse) / bytesPerMiB, nil
	})
	return p
}

// SetSink sets where read failures are reported.
func (p *Poller) SetSink(s telemetry.Sink) {
	if s != nil {
		p.sink = s
	}
}

// SetLogger sets the logger.
func (p *Poller) SetLogger(l telemetry.Logger) {
	if l != nil {
		p.logger = l
	}
}

// Register adds or replaces a source.
func (p *Poller) Register(name string, r Reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readers[name] = r
}

// Names lists the registered sources in order.
func (p *Poller) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.readers))
	for n := range p.readers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Func returns a read function for source, scaled by scale (1 when zero).
// The source is polled from then on; until its first measurement the
// function returns 0.
func (p *Poller) Func(source string, scale float64) (scheduler.ReadFunc, error) {
	if scale == 0 {
		scale = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.readers[source]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	c, ok := p.active[source]
	if !ok {
		c = &cell{}
		p.active[source] = c
	}
	return func() int {
		return int(math.Round(c.load() * scale))
	}, nil
}

// Refresh measures every active source once. Failures keep the previous
// value, are reported to the sink and are joined into the returned error.
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.Lock()
	work := make(map[string]Reader, len(p.active))
	cells := make(map[string]*cell, len(p.active))
	for name, c := range p.active {
		work[name] = p.readers[name]
		cells[name] = c
	}
	p.mu.Unlock()

	var errs []error
	for name, read := range work {
		v, err := read(ctx)
		if err != nil {
			err = fmt.Errorf("reading %s: %w", name, err)
			p.sink.Report(telemetry.NewEvent("sources", err, 0))
			errs = append(errs, err)
			continue
		}
		cells[name].store(v)
	}
	return errors.Join(errs...)
}

// Ready reports whether source has been measured at least once.
func (p *Poller) Ready(source string) bool {
	p.mu.Lock()
	c, ok := p.active[source]
	p.mu.Unlock()
	return ok && c.ok.Load()
}

// Run refreshes immediately and then every poll interval until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.Refresh(ctx); err != nil {
		p.logger.Warn("source refresh failed", "error", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn("source refresh failed", "error", err)
			}
		}
	}
}

func cpuPercent(ctx context.Context) (float64, error) {
	// Zero interval compares against the previous call.
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, errors.New("no cpu data")
	}
	return pct[0], nil
}

func memUsedPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func memAvailableMB(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return float64(vm.Available) / bytesPerMiB, nil
}

func diskUsedPercent(path string) Reader {
	return func(ctx context.Context) (float64, error) {
		u, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return 0, err
		}
		return u.UsedPercent, nil
	}
}

func load1(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

func hostUptime(ctx context.Context) (float64, error) {
	up, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return float64(up), nil
}
