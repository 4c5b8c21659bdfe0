package monitoring

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	channelState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_channel_state",
			Help: "Current channel state (0=disconnected 1=connecting 2=connected 3=reconnecting)",
		},
	)

	reconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_reconnect_attempts_total",
			Help: "Reconnect attempts by outcome",
		},
		[]string{"outcome"},
	)

	eventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_dispatched_total",
			Help: "Push events dispatched by kind",
		},
		[]string{"kind"},
	)

	cacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_cache_reads_total",
			Help: "Inventory cache reads by result",
		},
		[]string{"result"},
	)

	reservationOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_operations_total",
			Help: "Reservation operations by kind and status",
		},
		[]string{"operation", "status"},
	)

	trackedReservations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracked_reservations_total",
			Help: "Reservations currently tracked for expiry",
		},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)

	cachedSnapshots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inventory_cached_snapshots_total",
			Help: "Inventory snapshots currently held in the cache",
		},
	)
)

func SetChannelState(state int) {
	channelState.Set(float64(state))
}

func RecordReconnect(outcome string) {
	reconnectAttempts.WithLabelValues(outcome).Inc()
}

func RecordEventDispatched(kind string) {
	eventsDispatched.WithLabelValues(kind).Inc()
}

func RecordCacheRead(result string) {
	cacheReads.WithLabelValues(result).Inc()
}

func RecordReservationOp(operation, status string) {
	reservationOps.WithLabelValues(operation, status).Inc()
}

func SetTrackedReservations(n int) {
	trackedReservations.Set(float64(n))
}

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()

		m.collectCacheMetrics(ctx)
		goroutineCount.Set(float64(runtime.NumGoroutine()))
	}
}

func (m *Monitor) collectCacheMetrics(ctx context.Context) {
	keys, err := m.redis.Keys(ctx, "inventory:item:*").Result()
	if err != nil {
		return
	}
	cachedSnapshots.Set(float64(len(keys)))
}
