// Package sources turns host measurements into variable read functions.
//
// The scheduler calls its read functions from the sampling loop and they
// must not block, so measurements that touch the operating system are
// taken by a Poller on its own interval and cached. A read function only
// loads the cached value, multiplies it by the variable's scale and rounds
// it to an integer.
//
// # Built-in sources
//
//	cpu.percent         total CPU utilisation, 0-100
//	mem.used_percent    virtual memory in use, 0-100
//	mem.available_mb    available memory in MiB
//	disk.used_percent   usage of the configured disk path, 0-100
//	load.1              one-minute load average
//	host.uptime         seconds since boot
//	runtime.goroutines  goroutines in this process
//	runtime.heap_mb     heap in use by this process, MiB
//
// Further sources can be added with Poller.Register.
package sources
