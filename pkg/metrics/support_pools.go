package metrics

import (
	"database/sql"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

// PoolStats is a driver-neutral snapshot of a connection pool.
type PoolStats struct {
	Open      int              `json:"open"`
	InUse     int              `json:"in_use"`
	Idle      int              `json:"idle"`
	Max       int              `json:"max"`
	WaitCount int64            `json:"wait_count"`
	Health    PoolHealthStatus `json:"health"`
}

// Assess sets Health from utilization: ≥95% unhealthy, ≥80% degraded.
func (s PoolStats) Assess() PoolStats {
	s.Health = PoolHealthy
	if s.Max <= 0 {
		return s
	}
	utilization := float64(s.InUse) / float64(s.Max)
	switch {
	case utilization >= 0.95:
		s.Health = PoolUnhealthy
	case utilization >= 0.80:
		s.Health = PoolDegraded
	}
	return s
}

func SQLPoolStats(db *sql.DB) PoolStats {
	st := db.Stats()
	return PoolStats{
		Open:      st.OpenConnections,
		InUse:     st.InUse,
		Idle:      st.Idle,
		Max:       st.MaxOpenConnections,
		WaitCount: st.WaitCount,
	}.Assess()
}

func PgxPoolStats(pool *pgxpool.Pool) PoolStats {
	st := pool.Stat()
	return PoolStats{
		Open:      int(st.TotalConns()),
		InUse:     int(st.AcquiredConns()),
		Idle:      int(st.IdleConns()),
		Max:       int(st.MaxConns()),
		WaitCount: st.EmptyAcquireCount(),
	}.Assess()
}

// PoolMonitor collects snapshots from registered pools.
type PoolMonitor struct {
	mu    sync.RWMutex
	pools map[string]func() PoolStats
}

func NewPoolMonitor() *PoolMonitor {
	return &PoolMonitor{pools: make(map[string]func() PoolStats)}
}

func (m *PoolMonitor) RegisterSQL(name string, db *sql.DB) {
	m.register(name, func() PoolStats { return SQLPoolStats(db) })
}

func (m *PoolMonitor) RegisterPgx(name string, pool *pgxpool.Pool) {
	m.register(name, func() PoolStats { return PgxPoolStats(pool) })
}

func (m *PoolMonitor) register(name string, snapshot func() PoolStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[name] = snapshot
}

func (m *PoolMonitor) All() map[string]PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]PoolStats, len(m.pools))
	for name, snapshot := range m.pools {
		out[name] = snapshot()
	}
	return out
}
