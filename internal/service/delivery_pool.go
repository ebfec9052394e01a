package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/pkg/logger"
)

const (
	defaultDeliveryWorkers   = 8
	defaultDeliveryQueueSize = 1000
)

// DeliveryJob is one delivery attempt waiting for a worker. A job without a
// Webhook is a redelivery whose webhook is loaded when it runs.
type DeliveryJob struct {
	Webhook  *domain.Webhook
	Delivery *domain.WebhookDelivery
}

// DeliveryHandler performs a delivery attempt
type DeliveryHandler func(ctx context.Context, job DeliveryJob)

// DeliveryPool runs delivery attempts on a fixed number of workers fed by a
// bounded queue, so a burst of triggers cannot open unbounded connections.
type DeliveryPool struct {
	workerCount int
	queue       chan DeliveryJob
	logger      logger.Logger

	ctx      context.Context
	wg       sync.WaitGroup
	running  bool
	stopping atomic.Bool
	mu       sync.RWMutex
}

// NewDeliveryPool creates a pool. Non-positive sizes fall back to the defaults.
func NewDeliveryPool(workerCount, queueSize int, log logger.Logger) *DeliveryPool {
	if workerCount <= 0 {
		workerCount = defaultDeliveryWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultDeliveryQueueSize
	}
	return &DeliveryPool{
		workerCount: workerCount,
		queue:       make(chan DeliveryJob, queueSize),
		logger:      log,
	}
}

// Start launches the workers. Jobs run with a context that keeps the values of
// ctx but is not cancelled with it, so shutdown does not abort requests in flight.
func (p *DeliveryPool) Start(ctx context.Context, handle DeliveryHandler) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	if p.stopping.Load() {
		// the queue is closed; a stopped pool stays stopped
		p.mu.Unlock()
		p.logger.Warn("Webhook delivery pool cannot be restarted after Stop")
		return
	}
	p.ctx = context.WithoutCancel(ctx)
	p.running = true
	p.mu.Unlock()

	p.logger.WithFields(map[string]interface{}{
		"worker_count": p.workerCount,
		"queue_size":   cap(p.queue),
	}).Info("Starting webhook delivery pool")

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.work(handle)
	}
}

func (p *DeliveryPool) work(handle DeliveryHandler) {
	defer p.wg.Done()
	for job := range p.queue {
		if p.stopping.Load() {
			// left pending; its recovery lease makes it due for the retry poller
			continue
		}
		p.run(handle, job)
	}
}

func (p *DeliveryPool) run(handle DeliveryHandler, job DeliveryJob) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(map[string]interface{}{
				"delivery_id": job.Delivery.ID,
				"panic":       r,
			}).Error("Webhook delivery panicked")
		}
	}()
	handle(p.ctx, job)
}

// Submit queues a job without blocking. It returns false when the pool is
// not running or the queue is full.
func (p *DeliveryPool) Submit(job DeliveryJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return false
	}
	select {
	case p.queue <- job:
		return true
	default:
		return false
	}
}

// Stop lets running attempts finish and drops the jobs still queued.
func (p *DeliveryPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.stopping.Store(true)
	close(p.queue)
	p.mu.Unlock()

	p.logger.Info("Stopping webhook delivery pool...")
	p.wg.Wait()
	p.logger.Info("Webhook delivery pool stopped")
}

// IsRunning returns whether the pool accepts jobs
func (p *DeliveryPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Available returns how many more jobs the queue accepts right now
func (p *DeliveryPool) Available() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return 0
	}
	return cap(p.queue) - len(p.queue)
}

// QueueLength returns the number of jobs waiting for a worker
func (p *DeliveryPool) QueueLength() int {
	return len(p.queue)
}
