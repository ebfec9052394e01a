package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/leadforge/internal/domain"
)

func poolJob(id string) DeliveryJob {
	return DeliveryJob{
		Webhook:  &domain.Webhook{ID: "wh-1"},
		Delivery: &domain.WebhookDelivery{ID: id},
	}
}

func TestDeliveryPool_SubmitBeforeStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := NewDeliveryPool(1, 1, newMockLogger(ctrl))
	assert.False(t, pool.IsRunning())
	assert.False(t, pool.Submit(poolJob("d-1")))
}

func TestDeliveryPool_RunsJobs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := NewDeliveryPool(4, 100, newMockLogger(ctrl))

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	pool.Start(context.Background(), func(ctx context.Context, job DeliveryJob) {
		defer wg.Done()
		mu.Lock()
		seen[job.Delivery.ID] = true
		mu.Unlock()
	})
	defer pool.Stop()
	require.True(t, pool.IsRunning())

	ids := []string{"d-1", "d-2", "d-3", "d-4", "d-5", "d-6"}
	wg.Add(len(ids))
	for _, id := range ids {
		require.True(t, pool.Submit(poolJob(id)))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, len(ids))
}

func TestDeliveryPool_QueueFull(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := NewDeliveryPool(1, 1, newMockLogger(ctrl))
	started := make(chan string, 3)
	release := make(chan struct{})

	pool.Start(context.Background(), func(ctx context.Context, job DeliveryJob) {
		started <- job.Delivery.ID
		<-release
	})

	require.True(t, pool.Submit(poolJob("d-1")))
	assert.Equal(t, "d-1", <-started)

	require.True(t, pool.Submit(poolJob("d-2")))
	assert.Equal(t, 1, pool.QueueLength())
	assert.False(t, pool.Submit(poolJob("d-3")))

	close(release)
	assert.Equal(t, "d-2", <-started)
	pool.Stop()
	assert.False(t, pool.IsRunning())
}

func TestDeliveryPool_RecoversPanics(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := NewDeliveryPool(1, 10, newMockLogger(ctrl))
	done := make(chan string, 1)

	pool.Start(context.Background(), func(ctx context.Context, job DeliveryJob) {
		if job.Delivery.ID == "boom" {
			panic("handler exploded")
		}
		done <- job.Delivery.ID
	})
	defer pool.Stop()

	require.True(t, pool.Submit(poolJob("boom")))
	require.True(t, pool.Submit(poolJob("d-2")))

	select {
	case id := <-done:
		assert.Equal(t, "d-2", id)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestDeliveryPool_StopDropsQueuedJobs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := NewDeliveryPool(1, 10, newMockLogger(ctrl))
	started := make(chan string, 10)
	release := make(chan struct{})

	pool.Start(context.Background(), func(ctx context.Context, job DeliveryJob) {
		started <- job.Delivery.ID
		<-release
	})

	require.True(t, pool.Submit(poolJob("d-1")))
	assert.Equal(t, "d-1", <-started)
	require.True(t, pool.Submit(poolJob("d-2")))

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()
	assert.Eventually(t, func() bool { return !pool.IsRunning() }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, pool.Submit(poolJob("d-3")))

	close(release)
	<-stopped
	assert.Len(t, started, 0)
}

func TestDeliveryPool_JobsOutliveStartContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewDeliveryPool(1, 10, newMockLogger(ctrl))
	errs := make(chan error, 1)

	pool.Start(ctx, func(jobCtx context.Context, job DeliveryJob) {
		errs <- jobCtx.Err()
	})
	defer pool.Stop()

	cancel()
	require.True(t, pool.Submit(poolJob("d-1")))
	assert.NoError(t, <-errs)
}

func TestDeliveryPool_Defaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := NewDeliveryPool(0, 0, newMockLogger(ctrl))
	assert.Equal(t, defaultDeliveryWorkers, pool.workerCount)
	assert.Equal(t, defaultDeliveryQueueSize, cap(pool.queue))
}

func TestDeliveryPool_StartAfterStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := NewDeliveryPool(1, 10, newMockLogger(ctrl))
	handled := make(chan string, 1)
	handle := func(ctx context.Context, job DeliveryJob) { handled <- job.Delivery.ID }

	pool.Start(context.Background(), handle)
	pool.Stop()

	assert.NotPanics(t, func() {
		pool.Start(context.Background(), handle)
		assert.False(t, pool.Submit(poolJob("d-1")))
	})
	assert.False(t, pool.IsRunning())
	assert.Equal(t, 0, pool.Available())
	assert.Len(t, handled, 0)

	// a second Stop is a no-op
	assert.NotPanics(t, pool.Stop)
}

func TestDeliveryPool_Available(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := NewDeliveryPool(1, 3, newMockLogger(ctrl))
	assert.Equal(t, 0, pool.Available())

	started := make(chan string, 1)
	release := make(chan struct{})
	pool.Start(context.Background(), func(ctx context.Context, job DeliveryJob) {
		started <- job.Delivery.ID
		<-release
	})
	defer pool.Stop()
	defer close(release)

	assert.Equal(t, 3, pool.Available())
	require.True(t, pool.Submit(poolJob("d-1")))
	<-started
	require.True(t, pool.Submit(poolJob("d-2")))
	assert.Equal(t, 2, pool.Available())
}
