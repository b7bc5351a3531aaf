// Package sysinfo collects host facts and resource gauges.
package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/sweeney/box-counter/internal/metrics"
)

const gib = 1 << 30

// Info describes the host, as sent in export_system_info envelopes.
type Info struct {
	GoVersion        string  `json:"goVersion"`
	OSName           string  `json:"osName"`
	OSSystem         string  `json:"osSystem"`
	OSRelease        string  `json:"osRelease"`
	OSVersion        string  `json:"osVersion"`
	Hostname         string  `json:"hostname"`
	Arch             string  `json:"arch"`
	CPUCountPhysical int     `json:"cpuCountPhysical"`
	CPUCountLogical  int     `json:"cpuCountLogical"`
	CPUFreqCurrent   float64 `json:"cpuFreqCurrent"` // MHz
	TotalRAM         float64 `json:"totalRam"`       // GiB
	DiskTotal        float64 `json:"diskTotal"`      // GiB
}

// Collector gathers host information. DiskPath selects the filesystem to report.
type Collector struct {
	DiskPath string
}

// New returns a Collector reporting on the root filesystem.
func New() *Collector {
	return &Collector{DiskPath: "/"}
}

// Collect returns what could be gathered. Facts that fail to load are left
// zero and their errors are joined into the returned error.
func (c *Collector) Collect(ctx context.Context) (Info, error) {
	info := Info{
		GoVersion: runtime.Version(),
		OSName:    runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	var errs []error

	if h, err := host.InfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("host info: %w", err))
	} else {
		info.Hostname = h.Hostname
		info.OSSystem = h.Platform
		info.OSRelease = h.KernelVersion
		info.OSVersion = h.PlatformVersion
	}

	if n, err := cpu.CountsWithContext(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("physical cpu count: %w", err))
	} else {
		info.CPUCountPhysical = n
	}
	if n, err := cpu.CountsWithContext(ctx, true); err != nil {
		errs = append(errs, fmt.Errorf("logical cpu count: %w", err))
	} else {
		info.CPUCountLogical = n
	}
	if cpus, err := cpu.InfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cpu info: %w", err))
	} else if len(cpus) > 0 {
		info.CPUFreqCurrent = cpus[0].Mhz
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		info.TotalRAM = toGiB(vm.Total)
	}

	if du, err := disk.UsageWithContext(ctx, c.DiskPath); err != nil {
		errs = append(errs, fmt.Errorf("disk usage %s: %w", c.DiskPath, err))
	} else {
		info.DiskTotal = toGiB(du.Total)
	}

	return info, errors.Join(errs...)
}

// Observe records resource gauges into r. CPU usage is sampled without
// blocking, so the first call after startup may report 0.
func (c *Collector) Observe(ctx context.Context, r *metrics.Registry) error {
	var errs []error

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		errs = append(errs, fmt.Errorf("cpu percent: %w", err))
	} else if len(pct) > 0 {
		r.SetGauge("cpu_usage_percent", pct[0])
	}
	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		r.SetGauge("cpu_freq_current", cpus[0].Mhz)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		r.SetGauge("memory_total_gb", toGiB(vm.Total))
		r.SetGauge("memory_available_gb", toGiB(vm.Available))
		r.SetGauge("memory_used_gb", toGiB(vm.Used))
		r.SetGauge("memory_percent", vm.UsedPercent)
	}

	if du, err := disk.UsageWithContext(ctx, c.DiskPath); err != nil {
		errs = append(errs, fmt.Errorf("disk usage %s: %w", c.DiskPath, err))
	} else {
		r.SetGauge("disk_total_gb", toGiB(du.Total))
		r.SetGauge("disk_used_gb", toGiB(du.Used))
		r.SetGauge("disk_free_gb", toGiB(du.Free))
		r.SetGauge("disk_percent", du.UsedPercent)
	}

	// Load and temperatures are missing on some platforms.
	if avg, err := load.AvgWithContext(ctx); err == nil {
		r.SetGauge("load_1min", avg.Load1)
		r.SetGauge("load_5min", avg.Load5)
		r.SetGauge("load_15min", avg.Load15)
	}
	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		for _, t := range temps {
			r.SetGauge("temperature_"+metricSafe(t.SensorKey), t.Temperature)
		}
	}

	if io, err := net.IOCountersWithContext(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("network counters: %w", err))
	} else if len(io) > 0 {
		r.SetGauge("network_bytes_sent", float64(io[0].BytesSent))
		r.SetGauge("network_bytes_recv", float64(io[0].BytesRecv))
	}

	return errors.Join(errs...)
}

// toGiB converts bytes to GiB rounded to two decimals.
func toGiB(b uint64) float64 {
	return math.Round(float64(b)/gib*100) / 100
}

// metricSafe maps s onto the Prometheus metric name alphabet.
func metricSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, s)
}
