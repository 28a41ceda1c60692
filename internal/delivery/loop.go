package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/farhan/wagate/internal/config"
)

// Loop polls the queue on a fixed interval and hands due records to the
// worker, with a semaphore bounding in-flight sends. One Loop per process.
type Loop struct {
	store       Store
	worker      *Worker
	interval    time.Duration
	batchLimit  int
	concurrency int
	stuckAfter  time.Duration
	log         zerolog.Logger
	stop        chan struct{}
	wg          sync.WaitGroup
}

func NewLoop(cfg config.QueueConfig, store Store, log zerolog.Logger) *Loop {
	sender := NewSender(cfg.RequestTimeout)
	policy := NewPolicy(cfg.BaseBackoff, cfg.MaxBackoff)
	worker := NewWorker(store, sender, policy, log)

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Loop{
		store:       store,
		worker:      worker,
		interval:    cfg.PollInterval,
		batchLimit:  cfg.BatchLimit,
		concurrency: concurrency,
		stuckAfter:  cfg.StuckAfter,
		log:         log,
		stop:        make(chan struct{}),
	}
}

func (l *Loop) Start(ctx context.Context) {
	// Recover records a previous instance left in processing before the
	// first tick, so a crash never strands a delivery.
	if n, err := l.store.ResetStuckDeliveries(ctx, l.stuckAfter); err != nil {
		l.log.Warn().Err(err).Msg("failed to reset stuck deliveries")
	} else if n > 0 {
		l.log.Info().Int64("count", n).Msg("reset stuck deliveries from previous run")
	}

	l.log.Info().
		Dur("interval", l.interval).
		Int("batch_limit", l.batchLimit).
		Int("concurrency", l.concurrency).
		Msg("starting delivery loop")

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.pollLoop(ctx)
	}()
}

// Stop cancels future ticks and waits for in-flight sends to finish or time
// out on their own; attempts are never force-cancelled.
func (l *Loop) Stop() {
	close(l.stop)
	l.wg.Wait()
	l.log.Info().Msg("delivery loop stopped")
}

func (l *Loop) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	sem := make(chan struct{}, l.concurrency)

	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, sem)
		}
	}
}

func (l *Loop) tick(ctx context.Context, sem chan struct{}) {
	records, err := l.store.DueDeliveries(ctx, l.batchLimit)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to fetch due deliveries")
		return
	}

	for _, rec := range records {
		rec := rec
		sem <- struct{}{}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer func() { <-sem }()
			l.worker.Process(ctx, rec)
		}()
	}
}
