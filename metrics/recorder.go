package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/types"
)

const (
	DefaultNamespace  = "cache_metrics"
	timeSavedFraction = 0.9
)

const (
	counterHits      = "hits"
	counterMisses    = "misses"
	counterRequests  = "requests"
	counterTotalTime = "total_response_time"
	sampleSet        = "response_times"
)

// Recorder keeps hit/miss counters and response time samples in the shared
// store so every instance contributes to the same totals. Response times are
// stored as integer microseconds.
type Recorder struct {
	store        types.KeyValueStore
	prom         types.MetricsManager
	logger       types.Logger
	namespace    string
	retention    time.Duration
	recentWindow time.Duration
	minSamples   int64
	topViews     int
	now          func() time.Time
}

func NewRecorder(store types.KeyValueStore, prom types.MetricsManager, logger types.Logger, config *types.MetricsConfig) *Recorder {
	r := &Recorder{
		store:        store,
		prom:         prom,
		logger:       logger,
		namespace:    DefaultNamespace,
		retention:    24 * time.Hour,
		recentWindow: 5 * time.Minute,
		minSamples:   10,
		topViews:     5,
		now:          time.Now,
	}

	if prom == nil {
		r.prom = NewNoopMetrics()
	}

	if config != nil {
		if config.Namespace != "" {
			r.namespace = config.Namespace
		}
		if config.SampleRetention > 0 {
			r.retention = config.SampleRetention
		}
		if config.RecentWindow > 0 {
			r.recentWindow = config.RecentWindow
		}
		if config.MinSamples > 0 {
			r.minSamples = config.MinSamples
		}
		if config.TopViews > 0 {
			r.topViews = config.TopViews
		}
	}

	return r
}

// WithClock replaces the time source, used by tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

func (r *Recorder) RecentWindow() time.Duration {
	return r.recentWindow
}

func (r *Recorder) RecordHit(ctx context.Context, view string, elapsed time.Duration) error {
	return r.record(ctx, view, counterHits, elapsed)
}

func (r *Recorder) RecordMiss(ctx context.Context, view string, elapsed time.Duration) error {
	return r.record(ctx, view, counterMisses, elapsed)
}

func (r *Recorder) record(ctx context.Context, view, outcome string, elapsed time.Duration) error {
	result := "hit"
	if outcome == counterMisses {
		result = "miss"
	}
	labels := map[string]string{"view": view, "result": result}
	r.prom.Counter("cache_requests_total", labels).Inc()
	r.prom.Histogram("cache_response_seconds", nil, labels).Observe(elapsed.Seconds())

	micros := elapsed.Microseconds()

	err := r.store.Increment(ctx, map[string]int64{
		r.key(outcome):                    1,
		r.key(counterRequests):            1,
		r.key(counterTotalTime):           micros,
		r.viewKey(view, outcome):          1,
		r.viewKey(view, counterRequests):  1,
		r.viewKey(view, counterTotalTime): micros,
	})
	if err != nil {
		return types.WrapError(err, "failed to update cache counters")
	}

	score := float64(r.now().UnixNano()) / float64(time.Second)
	member := strconv.FormatInt(micros, 10) + ":" + uuid.NewString()

	if err = r.store.ZAdd(ctx, r.key(sampleSet), score, member); err != nil {
		return types.WrapError(err, "failed to append response time sample")
	}

	if err = r.store.ZAdd(ctx, r.viewKey(view, sampleSet), score, member); err != nil {
		return types.WrapError(err, "failed to append view response time sample")
	}

	return nil
}

// Views lists every view that has recorded at least one request.
func (r *Recorder) Views(ctx context.Context) ([]string, error) {
	prefix := r.namespace + ":view:"
	suffix := ":" + counterRequests

	seen := make(map[string]struct{})
	err := r.store.Scan(ctx, prefix+"*"+suffix, func(keys []string) error {
		for _, key := range keys {
			view := strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix)
			if view != "" {
				seen[view] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to list views")
	}

	views := make([]string, 0, len(seen))
	for view := range seen {
		views = append(views, view)
	}
	sort.Strings(views)

	return views, nil
}

// Counters reads the raw counters of one view, or the global ones for "".
func (r *Recorder) Counters(ctx context.Context, view string) (types.ViewCounters, error) {
	name := r.key
	if view != "" {
		name = func(counter string) string { return r.viewKey(view, counter) }
	}

	values, err := r.store.Counters(ctx,
		name(counterHits), name(counterMisses), name(counterRequests), name(counterTotalTime))
	if err != nil {
		return types.ViewCounters{}, types.WrapError(err, "failed to read counters")
	}

	return types.ViewCounters{
		View:              view,
		Hits:              values[0],
		Misses:            values[1],
		Requests:          values[2],
		TotalResponseTime: time.Duration(values[3]) * time.Microsecond,
	}, nil
}

func (r *Recorder) Summary(ctx context.Context) (types.MetricsSummary, error) {
	global, err := r.Counters(ctx, "")
	if err != nil {
		return types.MetricsSummary{}, err
	}

	views, err := r.Views(ctx)
	if err != nil {
		return types.MetricsSummary{}, err
	}

	summary := types.MetricsSummary{
		TotalRequests:       global.Requests,
		Hits:                global.Hits,
		Misses:              global.Misses,
		HitRate:             formatRate(global.HitRate()),
		AverageResponseTime: formatSeconds(global.AverageResponseTime()),
		ViewMetrics:         make(map[string]types.ViewSummary, len(views)),
	}

	for _, view := range views {
		counters, err := r.Counters(ctx, view)
		if err != nil {
			return types.MetricsSummary{}, err
		}

		summary.ViewMetrics[view] = types.ViewSummary{
			Requests:            counters.Requests,
			Hits:                counters.Hits,
			Misses:              counters.Misses,
			HitRate:             formatRate(counters.HitRate()),
			AverageResponseTime: formatSeconds(counters.AverageResponseTime()),
		}
	}

	return summary, nil
}

// Reset deletes every counter and sample under the metrics namespace.
func (r *Recorder) Reset(ctx context.Context) error {
	deleted := 0
	err := r.store.Scan(ctx, r.namespace+":*", func(keys []string) error {
		deleted += len(keys)
		return r.store.Delete(ctx, keys...)
	})
	if err != nil {
		return types.WrapError(err, "failed to reset cache metrics")
	}

	r.logger.Info("Cache metrics reset", zap.Int("deleted_keys", deleted))
	return nil
}

func (r *Recorder) Analytics(ctx context.Context) (types.Analytics, error) {
	summary, err := r.Summary(ctx)
	if err != nil {
		return types.Analytics{}, err
	}

	global, err := r.Counters(ctx, "")
	if err != nil {
		return types.Analytics{}, err
	}

	saved := float64(global.Hits) * global.AverageResponseTime().Seconds() * timeSavedFraction

	views, err := r.Views(ctx)
	if err != nil {
		return types.Analytics{}, err
	}

	byHitRate := make([]types.ViewHitRate, 0, len(views))
	byResponseTime := make([]types.ViewResponseTime, 0, len(views))

	for _, view := range views {
		counters, err := r.Counters(ctx, view)
		if err != nil {
			return types.Analytics{}, err
		}

		// Both rankings use the same request threshold.
		if counters.Requests < r.minSamples {
			continue
		}

		byHitRate = append(byHitRate, types.ViewHitRate{
			View:    view,
			HitRate: counters.HitRate(),
			Hits:    counters.Hits,
			Misses:  counters.Misses,
		})

		byResponseTime = append(byResponseTime, types.ViewResponseTime{
			View:            view,
			AvgResponseTime: counters.AverageResponseTime().Seconds(),
			Hits:            counters.Hits,
		})
	}

	sort.SliceStable(byHitRate, func(i, j int) bool {
		return byHitRate[i].HitRate > byHitRate[j].HitRate
	})

	sort.SliceStable(byResponseTime, func(i, j int) bool {
		if byResponseTime[i].AvgResponseTime == byResponseTime[j].AvgResponseTime {
			return byResponseTime[i].Hits > byResponseTime[j].Hits
		}
		return byResponseTime[i].AvgResponseTime < byResponseTime[j].AvgResponseTime
	})

	return types.Analytics{
		Summary: types.AnalyticsSummary{
			TotalRequests:       summary.TotalRequests,
			HitRate:             summary.HitRate,
			AverageResponseTime: summary.AverageResponseTime,
			EstimatedTimeSaved:  fmt.Sprintf("%.2f seconds", saved),
		},
		TopViewsByHitRate:      head(byHitRate, r.topViews),
		TopViewsByResponseTime: head(byResponseTime, r.topViews),
		AllMetrics:             summary,
	}, nil
}

// Recent describes the global samples recorded inside the trailing window.
func (r *Recorder) Recent(ctx context.Context, window time.Duration) (types.RecentStats, error) {
	if window <= 0 {
		window = r.recentWindow
	}

	since := float64(r.now().Add(-window).UnixNano()) / float64(time.Second)
	members, err := r.store.ZRangeByScore(ctx, r.key(sampleSet), since, math.Inf(1))
	if err != nil {
		return types.RecentStats{}, types.WrapError(err, "failed to read response time samples")
	}

	var total, max int64
	samples := 0
	for _, member := range members {
		micros, ok := sampleMicros(member)
		if !ok {
			continue
		}
		samples++
		total += micros
		if micros > max {
			max = micros
		}
	}

	stats := types.RecentStats{
		Window:              window.String(),
		Samples:             samples,
		AverageResponseTime: formatSeconds(0),
		MaxResponseTime:     formatSeconds(time.Duration(max) * time.Microsecond),
		RequestsPerSecond:   float64(samples) / window.Seconds(),
	}
	if samples > 0 {
		stats.AverageResponseTime = formatSeconds(time.Duration(total/int64(samples)) * time.Microsecond)
	}

	return stats, nil
}

// Prune drops samples older than the retention window from every sample set.
func (r *Recorder) Prune(ctx context.Context) (int64, error) {
	cutoff := float64(r.now().Add(-r.retention).UnixNano()) / float64(time.Second)

	views, err := r.Views(ctx)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(views)+1)
	keys = append(keys, r.key(sampleSet))
	for _, view := range views {
		keys = append(keys, r.viewKey(view, sampleSet))
	}

	var removed int64
	for _, key := range keys {
		n, err := r.store.ZRemRangeByScore(ctx, key, math.Inf(-1), cutoff)
		if err != nil {
			return removed, types.WrapError(err, "failed to prune response time samples")
		}
		removed += n
	}

	if removed > 0 {
		r.logger.Debug("Pruned response time samples", zap.Int64("removed", removed))
	}

	return removed, nil
}

// PruneJob adapts Prune to the cron scheduler.
func (r *Recorder) PruneJob() types.CronJob {
	return func(ctx context.Context) error {
		removed, err := r.Prune(ctx)
		if err != nil {
			return err
		}
		r.logger.Info("Metric samples pruned", zap.Int64("removed", removed))
		return nil
	}
}

func (r *Recorder) key(counter string) string {
	return r.namespace + ":" + counter
}

func (r *Recorder) viewKey(view, counter string) string {
	return r.namespace + ":view:" + view + ":" + counter
}

func sampleMicros(member string) (int64, bool) {
	raw, _, found := strings.Cut(member, ":")
	if !found {
		return 0, false
	}
	micros, err := strconv.ParseInt(raw, 10, 64)
	return micros, err == nil
}

func formatRate(rate float64) string {
	return fmt.Sprintf("%.2f%%", rate*100)
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.6f seconds", d.Seconds())
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
