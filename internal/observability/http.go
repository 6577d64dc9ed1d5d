package observability

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BacklogFunc reports outbox events per status.
type BacklogFunc func(ctx context.Context) (map[string]int64, error)

const backlogTimeout = 2 * time.Second

var outboxBacklogDesc = prometheus.NewDesc(
	"unigigs_outbox_backlog",
	"Outbox events by status at scrape time.",
	[]string{"status"}, nil,
)

// MetricsHandler exposes the Prometheus scrape endpoint. A non-nil backlog is
// queried on every scrape; when it fails the remaining metrics are still served.
func MetricsHandler(backlog BacklogFunc) fiber.Handler {
	RegisterMetrics()

	gatherer := prometheus.Gatherer(prometheus.DefaultGatherer)
	if backlog != nil {
		local := prometheus.NewRegistry()
		local.MustRegister(backlogCollector{backlog: backlog})
		gatherer = prometheus.Gatherers{prometheus.DefaultGatherer, local}
	}

	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
}

type backlogCollector struct {
	backlog BacklogFunc
}

func (c backlogCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- outboxBacklogDesc
}

func (c backlogCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), backlogTimeout)
	defer cancel()

	counts, err := c.backlog(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(outboxBacklogDesc, err)
		return
	}
	for status, total := range counts {
		ch <- prometheus.MustNewConstMetric(outboxBacklogDesc, prometheus.GaugeValue, float64(total), status)
	}
}
