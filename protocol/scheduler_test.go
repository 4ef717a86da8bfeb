package protocol

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/palisade-im/palisade-go/protocol/tt"
)

type SchedulerSuite struct {
	suite.Suite

	scheduler *Scheduler
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.scheduler = NewScheduler(tt.MustCreateTestLogger())
}

func (s *SchedulerSuite) TestFIFOPerConversation() {
	var mu sync.Mutex
	var order []int

	for i := 0; i < 100; i++ {
		i := i
		err := s.scheduler.Enqueue("conversation", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		s.Require().NoError(err)
	}
	s.scheduler.Stop()

	s.Require().Len(order, 100)
	for i, got := range order {
		s.Require().Equal(i, got)
	}
}

func (s *SchedulerSuite) TestOneInFlightPerConversation() {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	for i := 0; i < 20; i++ {
		err := s.scheduler.Enqueue("conversation", func() {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
		})
		s.Require().NoError(err)
	}
	s.scheduler.Stop()

	s.Require().Equal(1, maxInFlight)
}

func (s *SchedulerSuite) TestConversationsRunIndependently() {
	blocked := make(chan struct{})
	ran := make(chan struct{})

	s.Require().NoError(s.scheduler.Enqueue("slow", func() { <-blocked }))
	s.Require().NoError(s.scheduler.Enqueue("fast", func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		s.FailNow("a blocked conversation stalled an unrelated one")
	}
	close(blocked)
	s.scheduler.Stop()
}

func (s *SchedulerSuite) TestQueueGarbageCollectedWhenDrained() {
	done := make(chan struct{})
	s.Require().NoError(s.scheduler.Enqueue("conversation", func() { close(done) }))
	<-done

	err := tt.RetryWithBackOff(func() error {
		s.scheduler.mu.Lock()
		defer s.scheduler.mu.Unlock()
		if len(s.scheduler.queues) != 0 {
			return errors.New("queue still registered")
		}
		return nil
	})
	s.Require().NoError(err)
	s.scheduler.Stop()
}

func (s *SchedulerSuite) TestPanicDoesNotStallQueue() {
	ran := make(chan struct{})

	s.Require().NoError(s.scheduler.Enqueue("conversation", func() { panic("boom") }))
	s.Require().NoError(s.scheduler.Enqueue("conversation", func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		s.FailNow("panicking job stalled its queue")
	}
	s.scheduler.Stop()
}

func (s *SchedulerSuite) TestEnqueueAfterStop() {
	s.scheduler.Stop()
	err := s.scheduler.Enqueue("conversation", func() {})
	s.Require().ErrorIs(err, ErrSchedulerStopped)
}

func TestSchedulerConcurrentEnqueue(t *testing.T) {
	scheduler := NewScheduler(tt.MustCreateTestLogger())

	var mu sync.Mutex
	counts := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		id := string(rune('a' + i))
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = scheduler.Enqueue(id, func() {
					mu.Lock()
					counts[id]++
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()
	scheduler.Stop()

	for id, count := range counts {
		require.Equal(t, 50, count, "conversation %s", id)
	}
}
