package xtask_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrootd-go/xrdcl/xtask"
)

func TestTaskManagerRunsOnce(t *testing.T) {
	m := xtask.NewTaskManager()
	go m.Run()
	defer m.Stop()

	var n int32
	done := make(chan struct{})
	m.Register("once", 10*time.Millisecond, func() time.Duration {
		atomic.AddInt32(&n, 1)
		close(done)
		return 0
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never fired")
	}
	time.Sleep(30 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&n))
}

func TestTaskManagerReschedules(t *testing.T) {
	m := xtask.NewTaskManager()
	go m.Run()
	defer m.Stop()

	var n int32
	m.Register("periodic", 5*time.Millisecond, func() time.Duration {
		if atomic.AddInt32(&n, 1) >= 3 {
			return 0
		}
		return 5 * time.Millisecond
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&n) >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTaskManagerUnregister(t *testing.T) {
	m := xtask.NewTaskManager()
	go m.Run()
	defer m.Stop()

	var n int32
	m.Register("cancelme", 50*time.Millisecond, func() time.Duration {
		atomic.AddInt32(&n, 1)
		return 50 * time.Millisecond
	})
	m.Unregister("cancelme")
	time.Sleep(150 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&n))
}

func TestJobManagerRunWaitsAll(t *testing.T) {
	jm := xtask.NewJobManager(2)
	var n int32
	jobs := make([]xtask.JobFunc, 5)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) error {
			atomic.AddInt32(&n, 1)
			return nil
		}
	}
	require.NoError(t, jm.Run(context.Background(), jobs...))
	require.EqualValues(t, 5, n)
}

func TestJobManagerRunPropagatesFirstError(t *testing.T) {
	jm := xtask.NewJobManager(4)
	boom := errors.New("boom")
	err := jm.Run(context.Background(),
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	)
	require.ErrorIs(t, err, boom)
}

func TestJobManagerGoReportsDone(t *testing.T) {
	jm := xtask.NewJobManager(1)
	done := make(chan error, 1)
	jm.Go(context.Background(), func(ctx context.Context) error {
		return nil
	}, func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("job never completed")
	}
}

func TestJobManagerClosedRejectsGo(t *testing.T) {
	jm := xtask.NewJobManager(1)
	jm.Close()
	done := make(chan error, 1)
	jm.Go(context.Background(), func(ctx context.Context) error { return nil }, func(err error) { done <- err })
	require.ErrorIs(t, <-done, xtask.ErrJobManagerClosed)
}
