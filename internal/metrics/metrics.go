package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeshop_orders_total",
			Help: "Order lifecycle transitions",
		},
		[]string{"event"},
	)

	codesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codeshop_access_codes_delivered_total",
			Help: "Access codes moved to sold",
		},
	)

	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeshop_payment_webhooks_total",
			Help: "Payment webhooks by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, ordersTotal, codesDelivered, webhooksTotal)
}

// Middleware records request counts and latency per route pattern.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		path := endpoint(c, status)
		httpRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		return err
	}
}

// endpoint is the matched route pattern. Requests no route claimed share one
// label so scanners cannot grow the series set.
func endpoint(c *fiber.Ctx, status int) string {
	r := c.Route()
	if r.Path == "" || len(r.Handlers) == 0 {
		return "unmatched"
	}
	// Only a catch-all middleware saw the request.
	if status == fiber.StatusNotFound && r.Path == "/" && c.Path() != "/" {
		return "unmatched"
	}
	return r.Path
}

func Handler() fiber.Handler { return adaptor.HTTPHandler(promhttp.Handler()) }

func OrderEvent(event string) { ordersTotal.WithLabelValues(event).Inc() }

func CodesDelivered(n int) { codesDelivered.Add(float64(n)) }

func Webhook(outcome string) { webhooksTotal.WithLabelValues(outcome).Inc() }
