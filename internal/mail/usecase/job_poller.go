package usecase

import (
	"context"
	"log"
	"sync"
	"time"

	"mailsense-backend/internal/mail/repository"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultJobBatchSize = 5
)

// JobPoller drains the enrichment queue in the background. Work lives in
// job rows, not in memory, so whatever was pending when the process died is
// picked up again on the next tick.
type JobPoller struct {
	jobRepo   repository.EnrichmentJobRepository
	worker    *EnrichmentWorker
	interval  time.Duration
	batchSize int
	stopChan  chan struct{}
	started   bool
	mu        sync.Mutex
}

func NewJobPoller(jobRepo repository.EnrichmentJobRepository, worker *EnrichmentWorker, batchSize int) *JobPoller {
	if batchSize <= 0 {
		batchSize = defaultJobBatchSize
	}
	return &JobPoller{
		jobRepo:   jobRepo,
		worker:    worker,
		interval:  defaultPollInterval,
		batchSize: batchSize,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the polling loop
func (p *JobPoller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true

	go p.run()
	log.Printf("[JobPoller] Started (interval: %s, batch: %d)", p.interval, p.batchSize)
}

// Stop stops the polling loop gracefully
func (p *JobPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.started = false
	close(p.stopChan)
	log.Println("[JobPoller] Stopped")
}

func (p *JobPoller) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.poll()
		case <-p.stopChan:
			return
		}
	}
}

// poll claims one batch of pending jobs and processes it. Claiming flips
// rows to processing inside a transaction, so concurrent pollers on other
// instances never double-process a message.
func (p *JobPoller) poll() {
	jobs, err := p.jobRepo.ClaimPending(p.batchSize)
	if err != nil {
		log.Printf("[JobPoller] Failed to claim jobs: %v", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	messageIDs := make([]string, len(jobs))
	for i, job := range jobs {
		messageIDs[i] = job.MessageID
	}

	ctx := context.Background()
	results := p.worker.EnrichBatch(ctx, messageIDs)

	for i, job := range jobs {
		if results[i] != nil {
			log.Printf("[JobPoller] Job %s failed (attempt %d): %v", job.ID, job.Attempts, results[i])
			if err := p.jobRepo.MarkFailed(job.ID, results[i].Error()); err != nil {
				log.Printf("[JobPoller] Failed to record failure for job %s: %v", job.ID, err)
			}
			continue
		}
		if err := p.jobRepo.MarkDone(job.ID); err != nil {
			log.Printf("[JobPoller] Failed to complete job %s: %v", job.ID, err)
		}
	}
}
