package telemetry

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel/metric"
)

// startProcessMetrics registers observable gauges reporting this daemon's
// own resident memory and CPU usage, sampled on each collection pass rather
// than on a background ticker.
func startProcessMetrics(meter metric.Meter) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	rss, err := meter.Int64ObservableGauge("apteryx.process.rss_bytes",
		metric.WithDescription("resident set size of this daemon process"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	cpu, err := meter.Float64ObservableGauge("apteryx.process.cpu_percent",
		metric.WithDescription("CPU utilisation of this daemon process since the previous sample"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		if mem, err := proc.MemInfoWithContext(ctx); err == nil && mem != nil {
			obs.ObserveInt64(rss, int64(mem.RSS))
		}
		if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
			obs.ObserveFloat64(cpu, pct)
		}
		return nil
	}, rss, cpu)
	return err
}
