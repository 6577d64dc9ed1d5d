package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, handler fiber.Handler) (int, string) {
	t.Helper()
	app := fiber.New()
	app.Get("/metrics", handler)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMetricsHandlerReportsOutboxBacklog(t *testing.T) {
	OutboxEvents().WithLabelValues("delivered").Inc()

	status, body := scrape(t, MetricsHandler(func(ctx context.Context) (map[string]int64, error) {
		return map[string]int64{"pending": 3, "failed": 1}, nil
	}))
	require.Equal(t, fiber.StatusOK, status)
	require.Contains(t, body, `unigigs_outbox_backlog{status="pending"} 3`)
	require.Contains(t, body, `unigigs_outbox_backlog{status="failed"} 1`)
	require.Contains(t, body, "unigigs_outbox_events_total")
}

func TestMetricsHandlerSurvivesBacklogFailure(t *testing.T) {
	OutboxEvents().WithLabelValues("retry").Inc()

	status, body := scrape(t, MetricsHandler(func(ctx context.Context) (map[string]int64, error) {
		return nil, errors.New("database is down")
	}))
	require.Equal(t, fiber.StatusOK, status)
	require.NotContains(t, body, "unigigs_outbox_backlog{")
	require.Contains(t, body, "unigigs_outbox_events_total")
}

func TestMetricsHandlerWithoutBacklog(t *testing.T) {
	OutboxEvents().WithLabelValues("failed").Inc()

	status, body := scrape(t, MetricsHandler(nil))
	require.Equal(t, fiber.StatusOK, status)
	require.NotContains(t, body, "unigigs_outbox_backlog")
	require.Contains(t, body, "unigigs_outbox_events_total")
}
