package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockcart-backend/notify"
	"stockcart-backend/reservation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeScanner struct{ n int }

func (f fakeScanner) Scan(context.Context) (int, error) { return f.n, nil }

type fakeExpirer struct {
	maxAge time.Duration
	err    error
}

func (f *fakeExpirer) ExpireCarts(_ context.Context, maxAge time.Duration) (reservation.ExpiryResult, error) {
	f.maxAge = maxAge
	return reservation.ExpiryResult{CartsRemoved: 2, UnitsRestored: 7}, f.err
}

type fakeReporter struct{}

func (fakeReporter) SendDailySales(_ context.Context, day time.Time) (notify.DailyReport, error) {
	return notify.DailyReport{Date: day.Format("2006-01-02"), TotalItemsAdded: 3, UniqueProducts: 1}, nil
}

func newTestScheduler(t *testing.T) *Scheduler {
	return NewScheduler(NewRunLog(time.Hour), zaptest.NewLogger(t))
}

func TestRunOnceRecordsRun(t *testing.T) {
	s := newTestScheduler(t)
	expirer := &fakeExpirer{}
	require.NoError(t, s.Register(ExpireCarts(expirer, 24*time.Hour, "@hourly")))
	require.NoError(t, s.Register(CheckLowStock(fakeScanner{n: 3}, "@every 10m")))
	require.NoError(t, s.Register(DailySalesReport(fakeReporter{}, "0 18 * * *")))

	assert.Equal(t, []string{CheckLowStockJob, DailySalesReportJob, ExpireCartsJob}, s.Names())

	run, err := s.RunOnce(context.Background(), ExpireCartsJob)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, expirer.maxAge)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, TriggerManual, run.Trigger)
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, reservation.ExpiryResult{CartsRemoved: 2, UnitsRestored: 7}, run.Result)

	run, err = s.RunOnce(context.Background(), CheckLowStockJob)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"products_alerted": 3}, run.Result)

	assert.Len(t, s.Runs(), 2)
}

func TestRunOnceFailure(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Register(ExpireCarts(&fakeExpirer{err: errors.New("stock is busy")}, time.Hour, "")))

	run, err := s.RunOnce(context.Background(), ExpireCartsJob)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "stock is busy", run.Error)
}

func TestRunOnceUnknownJob(t *testing.T) {
	_, err := newTestScheduler(t).RunOnce(context.Background(), "rebuild-index")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunOnceDoesNotOverlap(t *testing.T) {
	s := newTestScheduler(t)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Register(Job{
		Name: "slow",
		Run: func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		},
	}))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background(), "slow")
		done <- err
	}()
	<-started

	_, err := s.RunOnce(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(release)
	assert.NoError(t, <-done)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) (any, error) { return nil, nil }

	assert.Error(t, s.Register(Job{Name: "bad", Schedule: "every tuesday", Run: noop}))
	require.NoError(t, s.Register(Job{Name: "ok", Schedule: "@hourly", Run: noop}))
	assert.Error(t, s.Register(Job{Name: "ok", Run: noop}))
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Register(CheckLowStock(fakeScanner{}, "@every 1h")))

	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestDailyAt(t *testing.T) {
	spec, err := DailyAt("18:00")
	require.NoError(t, err)
	assert.Equal(t, "0 18 * * *", spec)

	spec, err = DailyAt("07:45")
	require.NoError(t, err)
	assert.Equal(t, "45 7 * * *", spec)

	for _, bad := range []string{"18", "24:00", "12:60", "ab:cd"} {
		_, err := DailyAt(bad)
		assert.Error(t, err, bad)
	}
}

func TestRunLogPrunesFinishedRuns(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	log := NewRunLog(time.Hour)
	log.now = func() time.Time { return now }

	finished := log.Start("a", TriggerSchedule)
	log.Finish(finished, nil, nil)
	running := log.Start("b", TriggerSchedule)

	now = now.Add(2 * time.Hour)
	log.Start("c", TriggerManual)

	_, ok := log.Get(finished)
	assert.False(t, ok)
	_, ok = log.Get(running)
	assert.True(t, ok, "runs in progress are kept")

	runs := log.List()
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].Job)
}
