package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/Ramsey-B/rowan/pkg/metrics"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// Start launches the workers. Jobs submitted before Start are rejected.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("pipeline already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedC = make(chan struct{})
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "pipeline.Service.Start")
	defer span.End()

	// workers outlive the caller's context and stop through Stop
	workerCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < s.config.WorkerCount; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}

	stopCh, stoppedC := s.stopCh, s.stoppedC
	go func() {
		<-stopCh
		wg.Wait()
		close(stoppedC)
	}()

	s.logger.WithContext(ctx).Infof("Pipeline started: workers=%d queue=%d", s.config.WorkerCount, s.config.QueueSize)
	return nil
}

// Stop stops taking queued jobs and waits for in-flight jobs to finish. Jobs still
// queued stay pending.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping pipeline...")

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Pipeline stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Pipeline shutdown timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the pipeline accepts jobs
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Service) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	s.logger.WithContext(ctx).Debugf("Worker %d started", id)

	for {
		// a stop request wins over queued work
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debugf("Worker %d stopping", id)
			return
		default:
		}

		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debugf("Worker %d stopping", id)
			return
		case item := <-s.jobsCh:
			metrics.QueueDepth.Dec()
			s.run(ctx, item)
		}
	}
}
