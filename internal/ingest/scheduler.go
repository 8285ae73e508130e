package ingest

import (
	"context"
	"log"
	"time"

	"github.com/ionology/docqa/internal/domain"
)

// JobSource claims and maintains the ingestion queue.
type JobSource interface {
	ClaimNext(ctx context.Context) (*domain.Ingestion, error)
	DemoteStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

// Processor drives one claimed job to completion.
type Processor interface {
	Process(ctx context.Context, job *domain.Ingestion) error
}

// SchedulerOptions tunes the polling loop.
type SchedulerOptions struct {
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	JobTimeout      time.Duration
	StuckTimeout    time.Duration
	ReclaimInterval time.Duration
}

// Scheduler polls for queued jobs and hands them to the processor one at a
// time. The poll interval backs off while the queue is empty and snaps back
// to the base interval as soon as a job appears. Jobs stuck in flight past
// the stuck timeout are demoted back to the queue each cycle, and retrieval
// caches are purged on a fixed cadence or immediately under memory pressure.
type Scheduler struct {
	source    JobSource
	processor Processor
	caches    CacheInvalidator
	memory    *MemoryGuard

	pollInterval    time.Duration
	maxPollInterval time.Duration
	jobTimeout      time.Duration
	stuckTimeout    time.Duration
	reclaimInterval time.Duration

	now         func() time.Time
	lastReclaim time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewScheduler(source JobSource, processor Processor, caches CacheInvalidator, memory *MemoryGuard, opts SchedulerOptions) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPollInterval <= 0 {
		opts.MaxPollInterval = 60 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 300 * time.Second
	}
	if opts.StuckTimeout <= 0 {
		opts.StuckTimeout = 600 * time.Second
	}
	if opts.ReclaimInterval <= 0 {
		opts.ReclaimInterval = 10 * time.Minute
	}
	now := time.Now
	return &Scheduler{
		source:          source,
		processor:       processor,
		caches:          caches,
		memory:          memory,
		pollInterval:    opts.PollInterval,
		maxPollInterval: opts.MaxPollInterval,
		jobTimeout:      opts.JobTimeout,
		stuckTimeout:    opts.StuckTimeout,
		reclaimInterval: opts.ReclaimInterval,
		now:             now,
		lastReclaim:     now(),
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start begins the polling loop and blocks until stopped.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.doneChan)

	log.Printf("scheduler started, poll interval %v", s.pollInterval)

	interval := s.pollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler stopped: context cancelled")
			return
		case <-s.stopChan:
			log.Println("scheduler stopped: stop signal received")
			return
		case <-timer.C:
			worked := s.runCycle(ctx)
			if worked {
				interval = s.pollInterval
			} else if interval < s.maxPollInterval {
				interval *= 2
				if interval > s.maxPollInterval {
					interval = s.maxPollInterval
				}
			}
			timer.Reset(interval)
		}
	}
}

// Stop gracefully stops the scheduler, waiting for the current cycle.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.doneChan
	log.Println("scheduler shutdown complete")
}

// runCycle reclaims caches when due, demotes stuck jobs, then claims and
// processes at most one job. Returns true when a job was processed.
func (s *Scheduler) runCycle(ctx context.Context) bool {
	s.maybeReclaim()

	if n, err := s.source.DemoteStuck(ctx, s.stuckTimeout); err != nil {
		log.Printf("scheduler: stuck-job sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("scheduler: demoted %d stuck jobs", n)
	}

	job, err := s.source.ClaimNext(ctx)
	if err != nil {
		log.Printf("scheduler: claim failed: %v", err)
		return false
	}
	if job == nil {
		return false
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	if err := s.processor.Process(jobCtx, job); err != nil {
		log.Printf("scheduler: job %d did not complete: %v", job.ID, err)
	}
	return true
}

// maybeReclaim purges retrieval caches on the reclaim cadence, and
// immediately when the process RSS has crossed the memory ceiling.
func (s *Scheduler) maybeReclaim() {
	if s.caches == nil {
		return
	}
	if s.memory != nil && s.memory.Check() != nil {
		log.Println("scheduler: memory ceiling reached, purging caches")
		s.caches.InvalidateCaches()
		s.lastReclaim = s.now()
		return
	}
	if s.now().Sub(s.lastReclaim) >= s.reclaimInterval {
		s.caches.InvalidateCaches()
		s.lastReclaim = s.now()
	}
}
