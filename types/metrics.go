package types

import (
	"context"
	"time"
)

// MetricsManager is the process-local operational metrics registry.
type MetricsManager interface {
	LifecycleManager
	Counter(name string, labels map[string]string) Counter
	Gauge(name string, labels map[string]string) Gauge
	Histogram(name string, buckets []float64, labels map[string]string) Histogram
	Handler() FastHTTPHandler
}

type Counter interface {
	Inc()
	Add(value float64)
}

type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(value float64)
}

type Histogram interface {
	Observe(value float64)
	ObserveDuration(start time.Time)
}

// CacheMetrics is the cross-instance hit/miss accounting kept in the shared store.
type CacheMetrics interface {
	RecordHit(ctx context.Context, view string, elapsed time.Duration) error
	RecordMiss(ctx context.Context, view string, elapsed time.Duration) error
	Summary(ctx context.Context) (MetricsSummary, error)
	Reset(ctx context.Context) error
}

type MetricsSummary struct {
	TotalRequests       int64                  `json:"total_requests"`
	Hits                int64                  `json:"hits"`
	Misses              int64                  `json:"misses"`
	HitRate             string                 `json:"hit_rate"`
	AverageResponseTime string                 `json:"average_response_time"`
	ViewMetrics         map[string]ViewSummary `json:"view_metrics"`
}

type ViewSummary struct {
	Requests            int64  `json:"requests"`
	Hits                int64  `json:"hits"`
	Misses              int64  `json:"misses"`
	HitRate             string `json:"hit_rate"`
	AverageResponseTime string `json:"average_response_time"`
}

// ViewCounters are the raw counters of one view, or of everything when View is empty.
type ViewCounters struct {
	View              string
	Hits              int64
	Misses            int64
	Requests          int64
	TotalResponseTime time.Duration
}

func (c ViewCounters) HitRate() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.Hits) / float64(c.Requests)
}

func (c ViewCounters) AverageResponseTime() time.Duration {
	if c.Requests == 0 {
		return 0
	}
	return c.TotalResponseTime / time.Duration(c.Requests)
}

type Analytics struct {
	Summary                AnalyticsSummary   `json:"summary"`
	TopViewsByHitRate      []ViewHitRate      `json:"top_views_by_hit_rate"`
	TopViewsByResponseTime []ViewResponseTime `json:"top_views_by_response_time"`
	AllMetrics             MetricsSummary     `json:"all_metrics"`
}

type AnalyticsSummary struct {
	TotalRequests       int64  `json:"total_requests"`
	HitRate             string `json:"hit_rate"`
	AverageResponseTime string `json:"average_response_time"`
	EstimatedTimeSaved  string `json:"estimated_time_saved"`
}

type ViewHitRate struct {
	View    string  `json:"view"`
	HitRate float64 `json:"hit_rate"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
}

type ViewResponseTime struct {
	View            string  `json:"view"`
	AvgResponseTime float64 `json:"avg_response_time"`
	Hits            int64   `json:"hits"`
}

// RecentStats describes the samples recorded inside a trailing window.
type RecentStats struct {
	Window              string  `json:"window"`
	Samples             int     `json:"samples"`
	AverageResponseTime string  `json:"average_response_time"`
	MaxResponseTime     string  `json:"max_response_time"`
	RequestsPerSecond   float64 `json:"requests_per_second"`
}
