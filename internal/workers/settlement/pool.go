// Package settlement runs order lifecycles on a bounded worker pool and
// periodically sweeps for orders that lost their task.
package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/pkg/metrics"
)

// Processor drives orders forward.
type Processor interface {
	Process(ctx context.Context, id uuid.UUID) error
	Recoverable(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error)
}

// Config holds pool configuration
type Config struct {
	WorkerCount   int
	QueueSize     int
	SweepSchedule string
	SweepMinAge   time.Duration
	SweepBatch    int
	TaskTimeout   time.Duration
}

// DefaultConfig returns default pool configuration
func DefaultConfig() Config {
	return Config{
		WorkerCount:   8,
		QueueSize:     1024,
		SweepSchedule: "@every 1m",
		SweepMinAge:   3 * time.Minute,
		SweepBatch:    100,
		TaskTimeout:   15 * time.Minute,
	}
}

type task struct {
	id uuid.UUID
	fn func(ctx context.Context) error
}

// Pool executes at most one task per order at a time.
type Pool struct {
	config    Config
	processor Processor
	logger    *zap.Logger
	cron      *cron.Cron

	queue chan task
	stop  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[uuid.UUID]*task // pending follow-up, nil if none
	started  bool
	stopped  bool

	workCtx    context.Context
	cancelWork context.CancelFunc
}

// NewPool creates a settlement pool.
func NewPool(config Config, processor Processor, logger *zap.Logger) *Pool {
	def := DefaultConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = def.WorkerCount
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.SweepBatch <= 0 {
		config.SweepBatch = def.SweepBatch
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = def.TaskTimeout
	}
	workCtx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:     config,
		processor:  processor,
		logger:     logger,
		cron:       cron.New(),
		queue:      make(chan task, config.QueueSize),
		stop:       make(chan struct{}),
		inflight:   make(map[uuid.UUID]*task),
		workCtx:    workCtx,
		cancelWork: cancel,
	}
}

// Start launches the workers and, if configured, the recovery sweep.
// The first sweep runs immediately so orders interrupted by a restart resume.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("settlement pool already started")
	}
	p.started = true
	p.cancelWork()
	p.workCtx, p.cancelWork = context.WithCancel(ctx)
	p.mu.Unlock()

	p.logger.Info("Starting settlement pool",
		zap.Int("workers", p.config.WorkerCount),
		zap.Int("queue_size", p.config.QueueSize),
		zap.String("sweep_schedule", p.config.SweepSchedule))

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	if p.config.SweepSchedule != "" {
		if _, err := p.cron.AddFunc(p.config.SweepSchedule, func() { p.Sweep(p.workCtx) }); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", p.config.SweepSchedule, err)
		}
		p.cron.Start()
		go p.Sweep(p.workCtx)
	}
	return nil
}

// Shutdown stops the sweep, lets running tasks finish and abandons queued ones.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.stopped = true
	p.mu.Unlock()

	<-p.cron.Stop().Done()
	close(p.stop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	defer p.cancelWork()
	select {
	case <-done:
		p.logger.Info("Settlement pool stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("settlement pool did not drain within %s", timeout)
	}
}

// Schedule queues Process for the order.
func (p *Pool) Schedule(id uuid.UUID) {
	p.enqueue(task{id: id})
}

// ScheduleFunc queues fn for the order in place of Process.
func (p *Pool) ScheduleFunc(id uuid.UUID, fn func(ctx context.Context) error) {
	p.enqueue(task{id: id, fn: fn})
}

func (p *Pool) enqueue(t task) {
	p.mu.Lock()
	if pending, busy := p.inflight[t.id]; busy {
		// A running order picks the follow-up up when it finishes. A plain
		// Schedule never replaces a queued custom task.
		if pending == nil || t.fn != nil {
			next := t
			p.inflight[t.id] = &next
		}
		p.mu.Unlock()
		return
	}
	p.inflight[t.id] = nil
	p.mu.Unlock()

	select {
	case p.queue <- t:
		metrics.SettlementQueueDepth.Set(float64(len(p.queue)))
	default:
		p.mu.Lock()
		delete(p.inflight, t.id)
		p.mu.Unlock()
		p.logger.Warn("Settlement queue full, order left for the recovery sweep",
			zap.String("order_id", t.id.String()))
	}
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case t := <-p.queue:
			metrics.SettlementQueueDepth.Set(float64(len(p.queue)))
			p.run(t)
		}
	}
}

func (p *Pool) run(t task) {
	for {
		p.execute(t)

		p.mu.Lock()
		next := p.inflight[t.id]
		if next == nil {
			delete(p.inflight, t.id)
			p.mu.Unlock()
			return
		}
		p.inflight[t.id] = nil
		p.mu.Unlock()
		t = *next
	}
}

func (p *Pool) execute(t task) {
	ctx, cancel := context.WithTimeout(p.workCtx, p.config.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Settlement task panicked",
				zap.String("order_id", t.id.String()),
				zap.Any("panic", r))
		}
	}()

	var err error
	if t.fn != nil {
		err = t.fn(ctx)
	} else {
		err = p.processor.Process(ctx, t.id)
	}
	if err != nil {
		p.logger.Warn("Settlement task ended with error, sweep will retry",
			zap.String("order_id", t.id.String()),
			zap.Error(err))
	}
}

// Sweep schedules every order that has not moved for SweepMinAge.
func (p *Pool) Sweep(ctx context.Context) {
	ids, err := p.processor.Recoverable(ctx, p.config.SweepMinAge, p.config.SweepBatch)
	if err != nil {
		p.logger.Error("Recovery sweep failed", zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}
	p.logger.Info("Recovery sweep rescheduling orders", zap.Int("count", len(ids)))
	for _, id := range ids {
		p.Schedule(id)
	}
}
