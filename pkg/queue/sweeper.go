package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pushpals/pushpals/pkg/metrics"
	"github.com/pushpals/pushpals/pkg/store"
)

// Sweeper recovers claimed jobs whose worker disappeared. It is invoked
// opportunistically from claim/list/status endpoints and rate-limits
// itself so concurrent callers do not hammer the store.
type Sweeper struct {
	store    *store.Store
	ttl      time.Duration
	interval time.Duration

	mu      sync.Mutex
	lastRun time.Time
}

// NewSweeper builds a sweeper. ttl is the heartbeat staleness bound for
// claimed jobs; interval is the minimum spacing between sweeps.
func NewSweeper(st *store.Store, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{store: st, ttl: ttl, interval: interval}
}

// Sweep finds and recovers stale claims, returning the jobs this call
// transitioned back to pending. Callers announce each recovery on the
// owning session's bus. A sweep within the rate-limit window is a no-op.
func (s *Sweeper) Sweep(ctx context.Context) ([]store.StaleJob, error) {
	s.mu.Lock()
	if time.Since(s.lastRun) < s.interval {
		s.mu.Unlock()
		return nil, nil
	}
	s.lastRun = time.Now()
	s.mu.Unlock()

	stale, err := s.store.StaleClaimedJobs(ctx, s.ttl)
	if err != nil {
		return nil, err
	}

	var recovered []store.StaleJob
	for _, sj := range stale {
		// The status CAS lets at most one racer do the transition.
		ok, err := s.store.RecoverStaleJob(ctx, sj.JobID)
		if err != nil {
			return recovered, err
		}
		if !ok {
			continue
		}
		slog.Warn("Recovered stale job claim",
			"job_id", sj.JobID, "session_id", sj.SessionID, "worker_id", sj.WorkerID)
		metrics.StaleClaimsRecovered.Inc()
		recovered = append(recovered, sj)
	}
	return recovered, nil
}
