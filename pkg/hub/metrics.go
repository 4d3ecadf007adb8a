package hub

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/simcoach/log"
)

//nolint:funlen // list of gauges
func (h *Hub) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("simcoach.hub")
	register := func(metricName, desc string, valueProvider func() int64) {
		if _, err := meter.Int64ObservableGauge(
			metricName,
			metric.WithDescription(desc),
			metric.WithUnit("{count}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(valueProvider(),
					metric.WithAttributes(attribute.String("sink", h.sinkKey)),
				)
				return nil
			})); err != nil {
			h.l.Error("failed to register metric",
				log.String("metric", metricName),
				log.ErrorField(err))
		}
	}
	type data struct {
		name  string
		desc  string
		value func() int64
	}
	for _, d := range []*data{
		{
			"simcoach.hub.published", "Number of published frames",
			h.stats.published.Load,
		},
		{
			"simcoach.hub.sent", "Number of frames sent to subscribers",
			h.stats.sent.Load,
		},
		{
			"simcoach.hub.skipped", "Number of frames replaced before delivery",
			h.stats.skipped.Load,
		},
		{
			"simcoach.hub.evicted", "Number of evicted subscribers",
			h.stats.evicted.Load,
		},
		{
			"simcoach.hub.subscribers", "Number of subscribers",
			func() int64 { return int64(h.SubscriberCount()) },
		},
		{
			"simcoach.hub.sink.writes", "Number of sink writes",
			h.stats.sinkWrites.Load,
		},
		{
			"simcoach.hub.sink.errors", "Number of failed sink writes",
			h.stats.sinkErrors.Load,
		},
		{
			"simcoach.hub.sink.drops", "Number of points dropped on a full sink queue",
			h.stats.sinkDrops.Load,
		},
	} {
		register(d.name, d.desc, d.value)
	}
}
