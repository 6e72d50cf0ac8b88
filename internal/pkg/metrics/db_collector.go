package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolStater is implemented by *pgxpool.Pool.
type PoolStater interface {
	Stat() *pgxpool.Stat
}

// RecordDBPoolMetrics updates the pool gauges from one snapshot.
func RecordDBPoolMetrics(pool PoolStater) {
	stats := pool.Stat()

	DBPoolConnections.WithLabelValues("in_use").Set(float64(stats.AcquiredConns()))
	DBPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns()))
	DBPoolConnections.WithLabelValues("constructing").Set(float64(stats.ConstructingConns()))
	DBPoolConnections.WithLabelValues("max").Set(float64(stats.MaxConns()))
	DBPoolAcquireWait.Set(stats.AcquireDuration().Seconds())
}

// CollectDBPoolMetrics records pool metrics now and then every interval
// until ctx is done.
func CollectDBPoolMetrics(ctx context.Context, pool PoolStater, interval time.Duration) {
	RecordDBPoolMetrics(pool)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			RecordDBPoolMetrics(pool)
		case <-ctx.Done():
			return
		}
	}
}
