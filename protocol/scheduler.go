package protocol

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrSchedulerStopped returned by Enqueue after Stop.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// conversationQueue is the pending work of one conversation. Its
// worker goroutine exists only while jobs are pending; the registry
// entry is removed once the queue drains.
type conversationQueue struct {
	jobs    []func()
	running bool
}

// Scheduler runs jobs strictly in enqueue order per conversation id,
// one in flight at a time, while unrelated conversations proceed
// concurrently. Queues are created lazily and garbage-collected when
// they drain.
type Scheduler struct {
	mu      sync.Mutex
	queues  map[string]*conversationQueue
	wg      sync.WaitGroup
	stopped bool

	logger *zap.Logger
}

// NewScheduler returns a ready scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		queues: make(map[string]*conversationQueue),
		logger: logger.With(zap.String("site", "scheduler")),
	}
}

// Enqueue schedules job to run after all previously enqueued jobs for
// the same conversation id have completed.
func (s *Scheduler) Enqueue(conversationID string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	queue, ok := s.queues[conversationID]
	if !ok {
		queue = &conversationQueue{}
		s.queues[conversationID] = queue
	}
	queue.jobs = append(queue.jobs, job)
	if !queue.running {
		queue.running = true
		s.wg.Add(1)
		go s.run(conversationID, queue)
	}
	return nil
}

func (s *Scheduler) run(conversationID string, queue *conversationQueue) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(queue.jobs) == 0 {
			queue.running = false
			delete(s.queues, conversationID)
			s.mu.Unlock()
			return
		}
		job := queue.jobs[0]
		queue.jobs = queue.jobs[1:]
		s.mu.Unlock()

		s.runOne(conversationID, job)
	}
}

// runOne isolates a panicking job so it cannot take down the queue of
// another conversation, or its own.
func (s *Scheduler) runOne(conversationID string, job func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("conversation job panicked",
				zap.String("conversationID", conversationID),
				zap.Any("panic", r))
		}
	}()
	job()
}

// Stop rejects further jobs and waits for every queue to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
}
