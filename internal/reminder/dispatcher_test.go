package reminder

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/davmgs/meditrack/internal/config"
	apperrors "github.com/davmgs/meditrack/internal/errors"
	"github.com/davmgs/meditrack/internal/metrics"
	"github.com/davmgs/meditrack/internal/store"
	_ "github.com/glebarez/go-sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeNotifier struct {
	name string
	err  error

	mu   sync.Mutex
	sent []Reminder
}

func (f *fakeNotifier) Name() string                  { return f.name }
func (f *fakeNotifier) Enabled(user *store.User) bool { return true }

func (f *fakeNotifier) Send(ctx context.Context, user *store.User, rem Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, rem)
	return nil
}

func (f *fakeNotifier) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	st, err := store.NewWithDB(db)
	require.NoError(t, err)

	require.NoError(t, st.CreateUser(&store.User{ID: "default", DisplayName: "User"}))
	require.NoError(t, st.SetTelegramChat("default", 1))
	t.Cleanup(func() { st.Close() })
	return st
}

func testConfig(offset int) *config.Config {
	return &config.Config{
		Reminders: config.RemindersConfig{
			ToleranceMinutes:      5,
			TimezoneOffsetMinutes: offset,
			DefaultSnoozeMinutes:  5,
		},
	}
}

func newTestDispatcher(t *testing.T, st *store.Store, offset int) (*Dispatcher, *fakeNotifier) {
	t.Helper()
	fake := &fakeNotifier{name: "fake"}
	d := NewDispatcher(st, []Notifier{fake}, testConfig(offset), zap.NewNop(), metrics.New())
	return d, fake
}

func addMedication(t *testing.T, st *store.Store, times ...string) *store.Medication {
	t.Helper()
	supply := 30
	med := &store.Medication{
		UserID:        "default",
		Name:          "Metformin",
		Dosage:        "500mg",
		Times:         times,
		StartDate:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		CurrentSupply: &supply,
	}
	require.NoError(t, st.CreateMedication(med))
	return med
}

func TestRunCycleClaimsDueDose(t *testing.T) {
	st := newTestStore(t)
	med := addMedication(t, st, "08:00")
	d, fake := newTestDispatcher(t, st, 0)

	now := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)
	processed, err := d.RunCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, fake.sentCount())

	log, err := st.GetDoseLog(med.ID + "_2025-06-15_0800")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, store.StatusPending, log.Status)
	assert.True(t, log.ScheduledTime.Equal(time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)))
}

func TestRunCycleIdempotent(t *testing.T) {
	st := newTestStore(t)
	addMedication(t, st, "08:00")
	d, fake := newTestDispatcher(t, st, 0)

	now := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)

	processed, err := d.RunCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// A re-run inside the same window dispatches nothing.
	processed, err = d.RunCycle(context.Background(), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 1, fake.sentCount())
}

func TestRunCycleOutsideWindow(t *testing.T) {
	st := newTestStore(t)
	addMedication(t, st, "08:00")
	d, fake := newTestDispatcher(t, st, 0)

	for _, now := range []time.Time{
		time.Date(2025, 6, 15, 7, 54, 0, 0, time.UTC),
		time.Date(2025, 6, 15, 8, 6, 0, 0, time.UTC),
		time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	} {
		processed, err := d.RunCycle(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 0, processed, "at %s", now)
	}
	assert.Equal(t, 0, fake.sentCount())
}

func TestRunCycleWindowBoundaries(t *testing.T) {
	st := newTestStore(t)
	med := addMedication(t, st, "08:00")
	d, _ := newTestDispatcher(t, st, 0)

	// 07:55 is inside the window and claims the occurrence.
	processed, err := d.RunCycle(context.Background(), time.Date(2025, 6, 15, 7, 55, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// The record carries the scheduled 08:00, not the claim instant.
	log, err := st.GetDoseLog(med.ID + "_2025-06-15_0800")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, 8, log.ScheduledTime.UTC().Hour())
	assert.Equal(t, 0, log.ScheduledTime.UTC().Minute())
}

func TestRunCycleMidnightWraparound(t *testing.T) {
	st := newTestStore(t)
	med := addMedication(t, st, "23:58")
	d, _ := newTestDispatcher(t, st, 0)

	// Two minutes past midnight is still inside the 23:58 window, and
	// the occurrence belongs to the previous calendar day.
	now := time.Date(2025, 6, 16, 0, 2, 0, 0, time.UTC)
	processed, err := d.RunCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	log, err := st.GetDoseLog(med.ID + "_2025-06-15_2358")
	require.NoError(t, err)
	require.NotNil(t, log)
}

func TestRunCycleTimezoneOffset(t *testing.T) {
	st := newTestStore(t)
	med := addMedication(t, st, "08:00")
	d, _ := newTestDispatcher(t, st, 330) // IST

	// 02:30 UTC is 08:00 in the reference timezone.
	now := time.Date(2025, 6, 15, 2, 30, 0, 0, time.UTC)
	processed, err := d.RunCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	log, err := st.GetDoseLog(med.ID + "_2025-06-15_0800")
	require.NoError(t, err)
	require.NotNil(t, log)
}

func TestRunCycleSkipsInactiveMedication(t *testing.T) {
	st := newTestStore(t)
	med := addMedication(t, st, "08:00")

	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	med.EndDate = &end
	require.NoError(t, st.UpdateMedication(med))

	d, fake := newTestDispatcher(t, st, 0)
	processed, err := d.RunCycle(context.Background(), time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, fake.sentCount())
}

func TestRunCycleSkipsUserWithoutChannel(t *testing.T) {
	st := newTestStore(t)
	addMedication(t, st, "08:00")
	require.NoError(t, st.ClearTelegramChat("default"))

	d, fake := newTestDispatcher(t, st, 0)
	processed, err := d.RunCycle(context.Background(), time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, fake.sentCount())
}

func TestResurrectionAfterDeadline(t *testing.T) {
	st := newTestStore(t)
	med := addMedication(t, st, "08:00")
	d, fake := newTestDispatcher(t, st, 0)

	scheduled := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)
	until := scheduled.Add(3 * time.Minute)
	created, err := st.ClaimDose(&store.DoseLog{
		ID:            med.ID + "_2025-06-15_0800",
		UserID:        "default",
		MedicationID:  med.ID,
		ScheduledTime: scheduled,
		Status:        store.StatusDelayed,
		DelayedUntil:  &until,
		DelayCount:    1,
	})
	require.NoError(t, err)
	require.True(t, created)

	// Before the deadline nothing happens.
	processed, err := d.RunCycle(context.Background(), scheduled.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, fake.sentCount())

	// At the deadline the dose returns to pending and re-notifies with
	// the original scheduled time.
	processed, err = d.RunCycle(context.Background(), until)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	require.Equal(t, 1, fake.sentCount())
	assert.True(t, fake.sent[0].ScheduledAt.Equal(scheduled))

	log, err := st.GetDoseLog(med.ID + "_2025-06-15_0800")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, log.Status)

	// Resurrection happens once; the next cycle leaves the pending
	// record alone.
	processed, err = d.RunCycle(context.Background(), until.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 1, fake.sentCount())
}

func TestAnsweredDoseNotResent(t *testing.T) {
	st := newTestStore(t)
	med := addMedication(t, st, "08:00")
	d, fake := newTestDispatcher(t, st, 0)

	now := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)
	_, err := d.RunCycle(context.Background(), now)
	require.NoError(t, err)

	applied, err := st.UpdateDoseLogStatus(med.ID+"_2025-06-15_0800", store.StatusPending, map[string]interface{}{
		"status": store.StatusTaken,
	})
	require.NoError(t, err)
	require.True(t, applied)

	processed, err := d.RunCycle(context.Background(), now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 1, fake.sentCount())
}

func TestSubscriptionGoneClearsPush(t *testing.T) {
	st := newTestStore(t)
	addMedication(t, st, "08:00")

	sub := &store.PushSubscription{Endpoint: "https://push.example/dead"}
	sub.Keys.P256dh = "p"
	sub.Keys.Auth = "a"
	require.NoError(t, st.SetPushSubscription("default", sub))

	gone := &fakeNotifier{name: "push", err: apperrors.ErrSubscriptionGone}
	d := NewDispatcher(st, []Notifier{gone}, testConfig(0), zap.NewNop(), metrics.New())

	processed, err := d.RunCycle(context.Background(), time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	user, err := st.GetUser("default")
	require.NoError(t, err)
	assert.Empty(t, user.PushSubscriptionJSON)
	assert.False(t, user.WebNotificationsEnabled)
}

func TestBackfillMissed(t *testing.T) {
	st := newTestStore(t)
	med := addMedication(t, st, "08:00", "20:00")
	d, _ := newTestDispatcher(t, st, 0)

	// The 20:00 dose got a record during the day; only 08:00 is a gap.
	created, err := st.ClaimDose(&store.DoseLog{
		ID:            med.ID + "_2025-06-15_2000",
		UserID:        "default",
		MedicationID:  med.ID,
		ScheduledTime: time.Date(2025, 6, 15, 20, 0, 0, 0, time.UTC),
		Status:        store.StatusTaken,
	})
	require.NoError(t, err)
	require.True(t, created)

	now := time.Date(2025, 6, 16, 0, 30, 0, 0, time.UTC)
	backfilled, err := d.BackfillMissed(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, backfilled)

	log, err := st.GetDoseLog(med.ID + "_2025-06-15_0800")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, store.StatusMissed, log.Status)

	// The answered record is untouched.
	log, err = st.GetDoseLog(med.ID + "_2025-06-15_2000")
	require.NoError(t, err)
	assert.Equal(t, store.StatusTaken, log.Status)

	// Re-running the sweep adds nothing.
	backfilled, err = d.BackfillMissed(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, backfilled)
}

func TestApplyConfigChangesWindow(t *testing.T) {
	st := newTestStore(t)
	addMedication(t, st, "08:00")
	d, _ := newTestDispatcher(t, st, 0)

	// 08:08 is outside the default 5 minute tolerance.
	processed, err := d.RunCycle(context.Background(), time.Date(2025, 6, 15, 8, 8, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	wider := testConfig(0)
	wider.Reminders.ToleranceMinutes = 10
	d.ApplyConfig(wider)

	processed, err = d.RunCycle(context.Background(), time.Date(2025, 6, 15, 8, 8, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
}
