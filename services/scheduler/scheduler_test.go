package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"promopay-engine/pkg/cache"
	"promopay-engine/services/testutil"
)

func newTestScheduler(t *testing.T) (*Scheduler, *cache.Cache) {
	t.Helper()

	_, client := testutil.NewTestRedis(t)
	c := cache.New(client)
	return New(c), c
}

func noop(ctx context.Context) error { return nil }

func TestScheduler_AddCronJobValidatesSchedule(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.AddCronJob("ok", "*/5 * * * *", "", noop))
	require.Error(t, s.AddCronJob("bad", "not a schedule", "", noop))
	require.Error(t, s.AddCronJob("six-fields", "* * * * * *", "", noop), "second-granularity expressions are rejected")
}

func TestScheduler_RemoveCronJob(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.AddCronJob("job", "* * * * *", "", noop))
	require.True(t, s.RemoveCronJob("job"))
	require.False(t, s.RemoveCronJob("job"), "second removal finds nothing")
	require.False(t, s.RemoveCronJob("never-existed"))
}

func TestScheduler_EnableDisable(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.AddCronJob("job", "* * * * *", "", noop))

	require.True(t, s.DisableCronJob("job"))
	st := s.GetStatus()
	require.Len(t, st.Jobs, 1)
	require.False(t, st.Jobs[0].Enabled)

	require.True(t, s.EnableCronJob("job"))
	st = s.GetStatus()
	require.True(t, st.Jobs[0].Enabled)

	require.False(t, s.EnableCronJob("unknown"))
	require.False(t, s.DisableCronJob("unknown"))
}

func TestScheduler_DisabledJobDoesNotRun(t *testing.T) {
	s, _ := newTestScheduler(t)

	ran := false
	require.NoError(t, s.AddCronJob("job", "* * * * *", "", func(ctx context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, s.DisableCronJob("job"))

	s.runJob("job")
	require.False(t, ran)
}

func TestScheduler_RunJobCountsAndHistory(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	calls := 0
	require.NoError(t, s.AddCronJob("job", "* * * * *", "", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("boom")
		}
		return nil
	}))

	s.runJob("job")
	s.runJob("job")

	st := s.GetStatus()
	require.Equal(t, uint64(2), st.Jobs[0].RunCount)
	require.Equal(t, uint64(1), st.Jobs[0].ErrorCount)

	history, err := s.GetJobHistory(ctx, "job", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.True(t, history[0].Success, "newest first")
	require.False(t, history[1].Success)
	require.Equal(t, "boom", history[1].Error)
}

func TestScheduler_PanickingJobIsContained(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.AddCronJob("job", "* * * * *", "", func(ctx context.Context) error {
		panic("job went sideways")
	}))

	require.NotPanics(t, func() { s.runJob("job") })

	st := s.GetStatus()
	require.Equal(t, uint64(1), st.Jobs[0].ErrorCount)

	history, err := s.GetJobHistory(context.Background(), "job", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Contains(t, history[0].Error, "panic")
}

func TestScheduler_HistoryEmptyForUnknownJob(t *testing.T) {
	s, _ := newTestScheduler(t)

	history, err := s.GetJobHistory(context.Background(), "never-ran", 10)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestScheduler_HistoryIsBounded(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.AddCronJob("job", "* * * * *", "", noop))
	for i := 0; i < historyLimit+10; i++ {
		s.runJob("job")
	}

	history, err := s.GetJobHistory(context.Background(), "job", historyLimit*2)
	require.NoError(t, err)
	require.Len(t, history, historyLimit)
}

func TestScheduler_CountersSurviveRestart(t *testing.T) {
	s, c := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.AddCronJob("job", "* * * * *", "", noop))
	s.runJob("job")
	s.runJob("job")
	require.True(t, s.DisableCronJob("job"))

	// a new process comes up against the same cache
	next := New(c)
	require.NoError(t, next.AddCronJob("job", "* * * * *", "", noop))
	require.NoError(t, next.Start(ctx))
	defer func() { require.NoError(t, next.Stop(ctx)) }()

	st := next.GetStatus()
	require.True(t, st.Running)
	require.Len(t, st.Jobs, 1)
	require.Equal(t, uint64(2), st.Jobs[0].RunCount)
	require.False(t, st.Jobs[0].Enabled, "disabled state survives the restart")
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.AddCronJob("job", "* * * * *", "", noop))
	require.Error(t, s.CheckHealth(ctx), "not running yet")

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))
	require.True(t, s.GetStatus().Running)
	require.NoError(t, s.CheckHealth(ctx))

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	require.False(t, s.GetStatus().Running)
}

func TestScheduler_RestartDoesNotDuplicateTimers(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.AddCronJob("a", "* * * * *", "", noop))
	require.NoError(t, s.AddCronJob("b", "*/5 * * * *", "", noop))

	require.NoError(t, s.Start(ctx))
	require.Len(t, s.cron.Entries(), 2)

	require.NoError(t, s.Stop(ctx))
	require.Empty(t, s.cron.Entries())

	require.NoError(t, s.Start(ctx))
	require.Len(t, s.cron.Entries(), 2, "each job ticks once per schedule after a restart")
	require.NoError(t, s.Stop(ctx))
}
