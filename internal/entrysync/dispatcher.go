package entrysync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// taskTimeout bounds one background task including all its retries.
const taskTimeout = 5 * time.Minute

// MetricsRecordFunc is an optional callback for recording task outcomes.
type MetricsRecordFunc func(success bool)

// Dispatcher runs synchronization and provisioning work in the background
// so posting writes and account requests return immediately. Each task's
// failure is logged exactly once and never propagated to the caller that
// triggered it.
type Dispatcher struct {
	sync      *Synchronizer
	logger    *zap.Logger
	onMetrics MetricsRecordFunc
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher around s.
func NewDispatcher(s *Synchronizer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sync: s, logger: logger}
}

// SetMetricsRecord configures the outcome recording callback. Must be called
// before the first task is scheduled.
func (d *Dispatcher) SetMetricsRecord(fn MetricsRecordFunc) {
	d.onMetrics = fn
}

// Sync schedules a background synchronization run for postingID.
func (d *Dispatcher) Sync(postingID uuid.UUID) {
	d.Go("entry sync", func(ctx context.Context) error {
		return d.sync.Sync(ctx, postingID)
	})
}

// Go runs task in the background with a bounded context. name identifies
// the task in failure logs.
func (d *Dispatcher) Go(name string, task func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		err := task(ctx)
		if d.onMetrics != nil {
			d.onMetrics(err == nil)
		}
		if err != nil {
			d.logger.Error("background task failed",
				zap.String("task", name),
				zap.Error(err))
		}
	}()
}

// Close waits for in-flight background tasks to finish. New tasks must not
// be scheduled after Close.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}
