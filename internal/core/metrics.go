package core

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String("outcome", outcome)
}

// Metrics wraps the OTel instruments the dispatcher reports against. A nil
// *Metrics is valid everywhere in this package and simply skips recording,
// so tests and the embedded-client harness can run without a configured
// meter provider.
type Metrics struct {
	sets            metric.Int64Counter
	setsChanged     metric.Int64Counter
	gets            metric.Int64Counter
	searches        metric.Int64Counter
	prunes          metric.Int64Counter
	pruneRemoved    metric.Int64Counter
	watchDelivered  metric.Int64Counter
	watchDropped    metric.Int64Counter
	treeSizeCurrent metric.Int64ObservableGauge
}

// NewMetrics registers the dispatcher's instruments against meter. sizeFn is
// polled by an observable gauge on every collection, grounded on the
// teacher's resource-gauge callback pattern.
func NewMetrics(meter metric.Meter, sizeFn func() int64) (*Metrics, error) {
	var m Metrics
	var err error

	m.sets, err = meter.Int64Counter("apteryx.dispatch.set.total",
		metric.WithDescription("total set calls handled"))
	if err != nil {
		return nil, err
	}
	m.setsChanged, err = meter.Int64Counter("apteryx.dispatch.set.changed",
		metric.WithDescription("set calls that changed the stored value"))
	if err != nil {
		return nil, err
	}
	m.gets, err = meter.Int64Counter("apteryx.dispatch.get.total",
		metric.WithDescription("get calls by resolution outcome"))
	if err != nil {
		return nil, err
	}
	m.searches, err = meter.Int64Counter("apteryx.dispatch.search.total",
		metric.WithDescription("total search calls handled"))
	if err != nil {
		return nil, err
	}
	m.prunes, err = meter.Int64Counter("apteryx.dispatch.prune.total",
		metric.WithDescription("total prune calls handled"))
	if err != nil {
		return nil, err
	}
	m.pruneRemoved, err = meter.Int64Counter("apteryx.dispatch.prune.removed",
		metric.WithDescription("nodes removed across all prune calls"))
	if err != nil {
		return nil, err
	}
	m.watchDelivered, err = meter.Int64Counter("apteryx.dispatch.watch.delivered",
		metric.WithDescription("watch notifications delivered successfully"))
	if err != nil {
		return nil, err
	}
	m.watchDropped, err = meter.Int64Counter("apteryx.dispatch.watch.dropped",
		metric.WithDescription("watch notifications dropped after a delivery failure"))
	if err != nil {
		return nil, err
	}
	if sizeFn != nil {
		m.treeSizeCurrent, err = meter.Int64ObservableGauge("apteryx.store.size",
			metric.WithDescription("nodes currently holding a value"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(sizeFn())
				return nil
			}),
		)
		if err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (m *Metrics) observeSet(changed bool) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.sets.Add(ctx, 1)
	if changed {
		m.setsChanged.Add(ctx, 1)
	}
}

func (m *Metrics) observeGet(outcome string) {
	if m == nil {
		return
	}
	m.gets.Add(context.Background(), 1, metric.WithAttributes(outcomeAttr(outcome)))
}

func (m *Metrics) observeSearch() {
	if m == nil {
		return
	}
	m.searches.Add(context.Background(), 1)
}

func (m *Metrics) observePrune(removed int) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.prunes.Add(ctx, 1)
	if removed > 0 {
		m.pruneRemoved.Add(ctx, int64(removed))
	}
}

func (m *Metrics) observeWatchDelivery(ok bool) {
	if m == nil {
		return
	}
	ctx := context.Background()
	if ok {
		m.watchDelivered.Add(ctx, 1)
		return
	}
	m.watchDropped.Add(ctx, 1)
}
