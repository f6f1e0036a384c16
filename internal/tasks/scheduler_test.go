package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metax/internal/logging"
)

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 15m")
	require.NoError(t, err)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, from.Add(15*time.Minute), s.Next(from))

	s, err = ParseSchedule("0 3 * * *")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC), s.Next(from))

	s, err = ParseSchedule("")
	require.NoError(t, err)
	require.Equal(t, 9999, s.Next(from).UTC().Year())

	_, err = ParseSchedule("every day")
	require.ErrorContains(t, err, `parse schedule "every day"`)
}

func TestSchedulerRunsJobs(t *testing.T) {
	r := NewRunner(WithLogger(logging.Test(t)))
	r.Start()
	t.Cleanup(func() { require.NoError(t, r.Stop(context.Background())) })

	s := NewScheduler(r, logging.Test(t))
	var runs atomic.Int32
	require.NoError(t, s.Add("@every 10ms", "retry_sync_datasets", func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, s.Add("@never", "warm_cache", func(context.Context) error {
		t.Error("never scheduled job ran")
		return nil
	}))
	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	history, err := r.List(Query{Group: "cron", Name: "retry_sync_datasets"})
	require.NoError(t, err)
	require.NotEmpty(t, history)
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	r := NewRunner(WithWorkers(2))
	r.Start()
	t.Cleanup(func() { require.NoError(t, r.Stop(context.Background())) })

	s := NewScheduler(r, logging.Test(t))
	release := make(chan struct{})
	require.NoError(t, s.Add("@never", "slow", func(context.Context) error {
		<-release
		return nil
	}))
	ctx := context.Background()
	require.True(t, s.RunNow(ctx, "slow"))
	require.False(t, s.RunNow(ctx, "slow"))
	require.False(t, s.RunNow(ctx, "unknown"))
	close(release)
	require.Eventually(t, func() bool { return s.RunNow(ctx, "slow") }, 2*time.Second, 5*time.Millisecond)
}
