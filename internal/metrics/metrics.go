package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manpreetbhatti/lattice/relay/internal/protocol"
	"github.com/manpreetbhatti/lattice/relay/internal/room"
)

const namespace = "lattice_relay"

var (
	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Currently open websocket connections",
	})

	rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Rooms with at least one member",
	})

	inboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_messages_total",
		Help:      "Decoded inbound frames by message type",
	}, []string{"type"})

	malformedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_messages_total",
		Help:      "Inbound frames dropped as malformed",
	}, []string{"reason"})

	droppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_frames_total",
		Help:      "Outbound frames a peer could not accept",
	})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_frames_total",
		Help:      "Inbound frames discarded by the per-connection rate limit",
	})

	roomLifetime = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "room_lifetime_seconds",
		Help:      "Time between a room's first join and its last leave",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	roomPeakMembers = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "room_peak_members",
		Help:      "Largest concurrent membership a room reached",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 32},
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func ConnectionOpened() { connections.Inc() }
func ConnectionClosed() { connections.Dec() }

func InboundMessage(t protocol.MessageType) { inboundMessages.WithLabelValues(string(t)).Inc() }
func MalformedMessage(reason string)        { malformedMessages.WithLabelValues(reason).Inc() }
func RateLimited()                          { rateLimited.Inc() }

// RoomObserver feeds room lifecycle events into the room gauges.
type RoomObserver struct{}

var _ room.Observer = RoomObserver{}

func (RoomObserver) RoomOpened(string) { rooms.Inc() }

func (RoomObserver) RoomClosed(_ string, stats room.Stats) {
	rooms.Dec()
	roomLifetime.Observe(stats.ClosedAt.Sub(stats.OpenedAt).Seconds())
	roomPeakMembers.Observe(float64(stats.PeakMembers))
}

func (RoomObserver) FrameDropped(string, string) { droppedFrames.Inc() }

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// The websocket upgrade needs the underlying connection.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		r.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("relay metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request metrics labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(rec.status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
