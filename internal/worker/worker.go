package worker

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/model"
	"github.com/sells-group/takeoff-worker/internal/store"
)

// JobProcessor runs one claimed job to a terminal state.
type JobProcessor interface {
	ProcessJob(ctx context.Context, job *model.Job)
}

// Supervisor runs N independent claim-and-process loops. Mutual
// exclusion between loops (and between processes) comes entirely from
// the claim protocol, so loops never coordinate with each other.
type Supervisor struct {
	store     store.Store
	processor JobProcessor
	cfg       config.WorkerConfig
}

// NewSupervisor builds a Supervisor over the given store and processor.
func NewSupervisor(s store.Store, p JobProcessor, cfg config.WorkerConfig) *Supervisor {
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.PollIntervalSecs <= 0 {
		cfg.PollIntervalSecs = 5
	}
	if cfg.StaleLockSecs <= 0 {
		cfg.StaleLockSecs = 900
	}
	return &Supervisor{store: s, processor: p, cfg: cfg}
}

// Run blocks until ctx is cancelled, polling for work on every loop.
func (s *Supervisor) Run(ctx context.Context) error {
	zap.L().Info("worker supervisor starting",
		zap.String("worker_id", s.cfg.ID),
		zap.Int("loops", s.cfg.Count),
		zap.Duration("poll_interval", s.cfg.PollInterval()),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Count; i++ {
		g.Go(func() error {
			s.loop(gctx, fmt.Sprintf("%s-%d", s.cfg.ID, i))
			return nil
		})
	}
	return g.Wait()
}

func (s *Supervisor) loop(ctx context.Context, lockID string) {
	log := zap.L().With(zap.String("lock_id", lockID))
	for {
		if ctx.Err() != nil {
			log.Info("worker loop stopping")
			return
		}

		job, err := s.store.ClaimNextJob(ctx, lockID, s.cfg.StaleLockTimeout())
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Warn("claim failed", zap.Error(err))
			s.sleep(ctx)
		case job == nil:
			s.sleep(ctx)
		default:
			log.Info("job claimed",
				zap.String("job_id", job.ID),
				zap.String("trade_code", job.TradeCode),
				zap.Int("attempts", job.Attempts),
			)
			s.processor.ProcessJob(ctx, job)
		}
	}
}

// sleep waits one poll interval plus up to 20% jitter so idle loops
// spread their claim queries out.
func (s *Supervisor) sleep(ctx context.Context) {
	interval := s.cfg.PollInterval()
	jitter := time.Duration(rand.Int64N(int64(interval)/5 + 1))
	select {
	case <-ctx.Done():
	case <-time.After(interval + jitter):
	}
}
