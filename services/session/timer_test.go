package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"astroconnect/database"
	"astroconnect/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu       sync.Mutex
	ticks    []models.TimerState
	warnings []models.WarningInfo
	ends     []models.SessionEndInfo
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnTick: func(s models.TimerState) {
			r.mu.Lock()
			r.ticks = append(r.ticks, s)
			r.mu.Unlock()
		},
		OnWarning: func(w models.WarningInfo) {
			r.mu.Lock()
			r.warnings = append(r.warnings, w)
			r.mu.Unlock()
		},
		OnEnd: func(e models.SessionEndInfo) {
			r.mu.Lock()
			r.ends = append(r.ends, e)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) warningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.warnings)
}

func (r *recorder) endCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ends)
}

func newTimerService(store database.KVStore) (*DefaultTimerService, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	svc := NewTimerService(store)
	svc.now = clock.Now
	return svc, clock
}

func TestGetStateIsWallClockDerived(t *testing.T) {
	svc, clock := newTimerService(database.NewMemoryStore())
	rec := &recorder{}
	require.NoError(t, svc.Start(context.Background(), "s1", 300, 500, 10, rec.callbacks()))
	// Kill the armed tick: the point is that no tick processing happens
	// between the two reads, as during a process suspension.
	svc.timers.Stop(tickKey("s1"))

	before := svc.GetState("s1")
	require.NotNil(t, before)

	clock.Advance(5 * time.Second)

	after := svc.GetState("s1")
	require.NotNil(t, after)
	assert.Equal(t, 5, before.RemainingSeconds-after.RemainingSeconds)
	assert.Equal(t, 5, after.ElapsedSeconds-before.ElapsedSeconds)
}

func TestBillingRoundsPartialMinutesUp(t *testing.T) {
	svc, clock := newTimerService(database.NewMemoryStore())
	rec := &recorder{}
	require.NoError(t, svc.Start(context.Background(), "s1", 600, 500, 10, rec.callbacks()))
	svc.timers.Stop(tickKey("s1"))

	clock.Advance(61 * time.Second)
	state := svc.GetState("s1")
	require.NotNil(t, state)
	assert.Equal(t, float64(20), state.CurrentAmount)
}

func TestWarningAndExpiryEndToEnd(t *testing.T) {
	svc, clock := newTimerService(database.NewMemoryStore())
	rec := &recorder{}
	require.NoError(t, svc.Start(context.Background(), "s1", 300, 500, 10, rec.callbacks()))
	svc.timers.Stop(tickKey("s1"))

	clock.Advance(290 * time.Second)
	svc.tick("s1")
	svc.timers.Stop(tickKey("s1"))
	require.Equal(t, 1, rec.warningCount())
	assert.Equal(t, 60, rec.warnings[0].RemainingSeconds)

	// The 60s warning never refires.
	clock.Advance(time.Second)
	svc.tick("s1")
	svc.timers.Stop(tickKey("s1"))
	assert.Equal(t, 1, rec.warningCount())

	// 30s threshold fires its own warning exactly once.
	clock.Advance(80 * time.Second) // elapsed 371... already past expiry
	svc, clock = newTimerService(database.NewMemoryStore())
	rec = &recorder{}
	require.NoError(t, svc.Start(context.Background(), "s2", 300, 500, 10, rec.callbacks()))
	svc.timers.Stop(tickKey("s2"))
	clock.Advance(275 * time.Second)
	svc.tick("s2")
	svc.timers.Stop(tickKey("s2"))
	require.Equal(t, 1, rec.warningCount())
	assert.Equal(t, 25, rec.warnings[0].RemainingSeconds)

	// Expiry: terminal, fires once, removes all state.
	clock.Advance(25 * time.Second)
	svc.tick("s2")
	require.Equal(t, 1, rec.endCount())
	assert.Equal(t, "time_expired", rec.ends[0].Reason)
	assert.Equal(t, float64(50), rec.ends[0].Billed)
	assert.Nil(t, svc.GetState("s2"))

	keys, err := svc.store.Keys(context.Background(), TimerKeyPrefix)
	require.NoError(t, err)
	assert.NotContains(t, keys, TimerKeyPrefix+"s2")
}

func TestStopReturnsFinalStateAndDeletesRecord(t *testing.T) {
	store := database.NewMemoryStore()
	svc, clock := newTimerService(store)
	rec := &recorder{}
	require.NoError(t, svc.Start(context.Background(), "s1", 300, 500, 10, rec.callbacks()))
	svc.timers.Stop(tickKey("s1"))

	clock.Advance(90 * time.Second)
	final, err := svc.Stop(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 90, final.ElapsedSeconds)
	assert.Equal(t, float64(20), final.CurrentAmount)
	assert.Equal(t, 0, rec.endCount(), "caller-initiated stop does not fire OnEnd")
	assert.Nil(t, svc.GetState("s1"))

	_, err = store.Get(context.Background(), TimerKeyPrefix+"s1")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = svc.Stop(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrTimerNotFound)
}

func TestStartRejectsDuplicateSession(t *testing.T) {
	svc, _ := newTimerService(database.NewMemoryStore())
	rec := &recorder{}
	require.NoError(t, svc.Start(context.Background(), "s1", 300, 500, 10, rec.callbacks()))
	svc.timers.Stop(tickKey("s1"))
	assert.ErrorIs(t, svc.Start(context.Background(), "s1", 300, 500, 10, rec.callbacks()), ErrTimerExists)
}

func TestForegroundCleansUpExpiredSnapshots(t *testing.T) {
	store := database.NewMemoryStore()
	first, _ := newTimerService(store)
	rec := &recorder{}
	require.NoError(t, first.Start(context.Background(), "s1", 300, 500, 10, rec.callbacks()))
	first.timers.Stop(tickKey("s1"))

	// Simulate a cold start long after expiry: a fresh service over the
	// same store, wall clock well past the end.
	revived, revivedClock := newTimerService(store)
	revivedClock.Advance(10 * time.Minute)
	revived.OnForeground(context.Background())

	assert.Nil(t, revived.GetState("s1"))
	_, err := store.Get(context.Background(), TimerKeyPrefix+"s1")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestForegroundLoadsLiveSnapshotAwaitingResume(t *testing.T) {
	store := database.NewMemoryStore()
	first, _ := newTimerService(store)
	rec := &recorder{}
	require.NoError(t, first.Start(context.Background(), "s1", 300, 500, 10, rec.callbacks()))
	first.timers.Stop(tickKey("s1"))

	revived, revivedClock := newTimerService(store)
	revivedClock.Advance(100 * time.Second)
	revived.OnForeground(context.Background())

	// Loaded but not ticking: state is readable, callbacks are gone until
	// Resume re-registers them.
	state := revived.GetState("s1")
	require.NotNil(t, state)
	assert.Equal(t, 200, state.RemainingSeconds)
	assert.False(t, revived.timers.Active(tickKey("s1")))

	resumed := &recorder{}
	require.NoError(t, revived.Resume(context.Background(), "s1", resumed.callbacks()))
	assert.True(t, revived.timers.Active(tickKey("s1")))
	revived.timers.Stop(tickKey("s1"))
}

func TestResumeOfExpiredSnapshotFiresEndImmediately(t *testing.T) {
	store := database.NewMemoryStore()
	first, _ := newTimerService(store)
	require.NoError(t, first.Start(context.Background(), "s1", 300, 500, 10, Callbacks{}))
	first.timers.Stop(tickKey("s1"))

	revived, revivedClock := newTimerService(store)
	revivedClock.Advance(10 * time.Minute)
	rec := &recorder{}
	require.NoError(t, revived.Resume(context.Background(), "s1", rec.callbacks()))

	require.Equal(t, 1, rec.endCount())
	assert.Equal(t, "time_expired", rec.ends[0].Reason)
	assert.Nil(t, revived.GetState("s1"))
	assert.False(t, revived.timers.Active(tickKey("s1")))
}

func TestBackgroundFlushesSnapshotDurably(t *testing.T) {
	store := database.NewMemoryStore()
	svc, clock := newTimerService(store)
	require.NoError(t, svc.Start(context.Background(), "s1", 300, 500, 10, Callbacks{}))
	svc.timers.Stop(tickKey("s1"))

	// Cross the 60s warning so the snapshot carries a fired flag, then
	// background and verify the durable record reflects it.
	clock.Advance(250 * time.Second)
	svc.tick("s1")
	svc.timers.Stop(tickKey("s1"))
	svc.OnBackground(context.Background())

	loaded, err := svc.load(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, loaded.WarningFired60)
}
