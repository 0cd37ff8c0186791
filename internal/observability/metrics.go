package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_http_requests_total",
			Help: "Total number of control API requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatclient_http_request_duration_seconds",
			Help:    "Control API request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcClientHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_grpc_client_handled_total",
			Help: "Total number of gRPC calls completed by the client.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatclient_ws_active_connections",
			Help: "Number of open realtime connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_ws_events_total",
			Help: "Total number of realtime connection lifecycle events.",
		},
		[]string{"event"},
	)
	wsFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_ws_frames_total",
			Help: "Total number of realtime frames by direction and event.",
		},
		[]string{"direction", "event"},
	)
	decodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_decode_errors_total",
			Help: "Total number of inbound payloads that could not be decoded.",
		},
		[]string{"source"},
	)
	outboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatclient_outbox_depth",
			Help: "Number of outbound actions waiting for a connection.",
		},
	)
	outboxRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatclient_outbox_rejected_total",
			Help: "Total number of outbound actions rejected by a full outbox.",
		},
	)
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_api_requests_total",
			Help: "Total number of request/response API calls.",
		},
		[]string{"endpoint", "status"},
	)
	cacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_cache_errors_total",
			Help: "Total number of local cache failures.",
		},
		[]string{"op"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatclient_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcClientHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		wsFramesTotal,
		decodeErrorsTotal,
		outboxDepth,
		outboxRejectedTotal,
		apiRequestsTotal,
		cacheErrorsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// GRPCClientMetricsUnaryInterceptor counts outgoing unary calls, such as the
// trace exporter's.
func GRPCClientMetricsUnaryInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := invoker(ctx, method, req, reply, cc, opts...)
		service, name := splitFullMethod(method)
		grpcClientHandledTotal.WithLabelValues(service, name, status.Code(err).String()).Inc()
		return err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncWSFrame(direction, event string) {
	wsFramesTotal.WithLabelValues(direction, event).Inc()
}

func IncDecodeError(source string) {
	decodeErrorsTotal.WithLabelValues(source).Inc()
}

func SetOutboxDepth(n int) {
	outboxDepth.Set(float64(n))
}

func IncOutboxRejected() {
	outboxRejectedTotal.Inc()
}

func IncAPIRequest(endpoint string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	apiRequestsTotal.WithLabelValues(endpoint, label).Inc()
}

func IncCacheError(op string) {
	cacheErrorsTotal.WithLabelValues(op).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
