package postgres

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"vidfab-pipeline/internal/infra/metrics"
)

// MustConnectPostgres returns a live *pgxpool.Pool or fatals.
func MustConnectPostgres(dsn string) *pgxpool.Pool {
	if dsn == "" {
		log.Fatal("database dsn is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("pgxpool.Connect failed: %v", err)
	}
	return pool
}

// ReportPoolStats pushes pool gauges until ctx is done.
func ReportPoolStats(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := pool.Stat()
			metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		}
	}
}
