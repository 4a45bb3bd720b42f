// ABOUTME: System information provider backed by gopsutil.
// ABOUTME: Reports host, CPU, memory, and disk metrics on demand.

package sysinfo

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/spf13/cast"

	"github.com/toolgate/toolgate/internal/plugin"
)

// ProviderName is the registry name for this provider.
const ProviderName = "system_info"

// cpuSampleInterval is how long the CPU utilization sample runs. Zero would
// compare against the previous call, which is meaningless for a fresh probe.
const cpuSampleInterval = 200 * time.Millisecond

// Provider reports system metrics. It is stateless between calls and safe
// for concurrent use.
type Provider struct {
	logger *slog.Logger
}

// New creates a system info provider.
func New(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{logger: logger}
}

func (p *Provider) Name() string { return ProviderName }

// Capabilities declares inspect first so it is the provider's default
// operation.
func (p *Provider) Capabilities() []plugin.Capability {
	return []plugin.Capability{
		{
			Name:        "inspect",
			Description: "Get system information: host details, CPU, memory, or disk usage",
			InputSchema: plugin.ObjectSchema(map[string]any{
				"info_type": map[string]any{
					"type":        "string",
					"description": "Which subsystem to report on",
					"enum":        []string{"system", "cpu", "memory", "disk"},
				},
			}),
		},
		{
			Name:        "memory",
			Description: "Get current memory usage, optionally with swap details",
			InputSchema: plugin.ObjectSchema(map[string]any{
				"include_details": map[string]any{
					"type":        "boolean",
					"description": "Include swap and cached memory breakdown",
				},
			}),
		},
	}
}

func (p *Provider) Init(ctx context.Context) error {
	// Probe once so a broken procfs surfaces at startup, not mid-request.
	if _, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		return fmt.Errorf("probing memory stats: %w", err)
	}
	return nil
}

func (p *Provider) Shutdown(ctx context.Context) error { return nil }

func (p *Provider) Execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	switch operation {
	case "inspect":
		return p.inspect(ctx, cast.ToString(args["info_type"]))
	case "memory":
		return p.memory(ctx, cast.ToBool(args["include_details"]))
	default:
		return nil, fmt.Errorf("unknown operation %q", operation)
	}
}

func (p *Provider) inspect(ctx context.Context, infoType string) (any, error) {
	switch infoType {
	case "", "system":
		return p.systemInfo(ctx)
	case "cpu":
		return p.cpuInfo(ctx)
	case "memory":
		return p.memory(ctx, false)
	case "disk":
		return p.diskInfo(ctx)
	default:
		return nil, fmt.Errorf("unknown info_type %q", infoType)
	}
}

func (p *Provider) systemInfo(ctx context.Context) (any, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}
	return map[string]any{
		"hostname":         info.Hostname,
		"os":               info.OS,
		"platform":         info.Platform,
		"platform_version": info.PlatformVersion,
		"kernel_version":   info.KernelVersion,
		"arch":             runtime.GOARCH,
		"uptime_seconds":   info.Uptime,
		"boot_time":        time.Unix(int64(info.BootTime), 0).UTC().Format(time.RFC3339),
	}, nil
}

func (p *Provider) cpuInfo(ctx context.Context) (any, error) {
	counts, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("counting CPUs: %w", err)
	}
	percents, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return nil, fmt.Errorf("sampling CPU usage: %w", err)
	}
	usage := 0.0
	if len(percents) > 0 {
		usage = percents[0]
	}
	return map[string]any{
		"logical_cores": counts,
		"usage_percent": usage,
	}, nil
}

func (p *Provider) memory(ctx context.Context, includeDetails bool) (any, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading memory stats: %w", err)
	}
	result := map[string]any{
		"total_bytes":     vm.Total,
		"used_bytes":      vm.Used,
		"available_bytes": vm.Available,
		"used_percent":    vm.UsedPercent,
	}
	if includeDetails {
		swap, err := mem.SwapMemoryWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading swap stats: %w", err)
		}
		result["cached_bytes"] = vm.Cached
		result["buffers_bytes"] = vm.Buffers
		result["swap_total_bytes"] = swap.Total
		result["swap_used_bytes"] = swap.Used
	}
	return result, nil
}

func (p *Provider) diskInfo(ctx context.Context) (any, error) {
	usage, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return nil, fmt.Errorf("reading disk usage: %w", err)
	}
	return map[string]any{
		"path":         usage.Path,
		"total_bytes":  usage.Total,
		"used_bytes":   usage.Used,
		"free_bytes":   usage.Free,
		"used_percent": usage.UsedPercent,
	}, nil
}
