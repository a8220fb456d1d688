package metrics

import (
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/Khoshtrip/backend/types"
)

// NewManager returns the Prometheus registry when enabled and a no-op manager
// otherwise, so callers never branch on metrics being configured.
func NewManager(config *types.PrometheusConfig, logger types.Logger) types.MetricsManager {
	if config == nil || !config.Enabled {
		return NewNoopMetrics()
	}
	return NewPrometheusMetrics(logger, config)
}

type NoopMetrics struct {
	running int32
}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) Start() error {
	atomic.StoreInt32(&n.running, 1)
	return nil
}

func (n *NoopMetrics) Stop() error {
	atomic.StoreInt32(&n.running, 0)
	return nil
}

func (n *NoopMetrics) IsRunning() bool {
	return atomic.LoadInt32(&n.running) == 1
}

func (n *NoopMetrics) Counter(string, map[string]string) types.Counter {
	return emptyCounter{}
}

func (n *NoopMetrics) Gauge(string, map[string]string) types.Gauge {
	return emptyGauge{}
}

func (n *NoopMetrics) Histogram(string, []float64, map[string]string) types.Histogram {
	return emptyHistogram{}
}

func (n *NoopMetrics) Handler() types.FastHTTPHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

type emptyCounter struct{}

func (emptyCounter) Inc()          {}
func (emptyCounter) Add(_ float64) {}

type emptyGauge struct{}

func (emptyGauge) Set(_ float64) {}
func (emptyGauge) Inc()          {}
func (emptyGauge) Dec()          {}
func (emptyGauge) Add(_ float64) {}

type emptyHistogram struct{}

func (emptyHistogram) Observe(_ float64)           {}
func (emptyHistogram) ObserveDuration(_ time.Time) {}
