package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/davmgs/meditrack/internal/config"
	apperrors "github.com/davmgs/meditrack/internal/errors"
	"github.com/davmgs/meditrack/internal/metrics"
	"github.com/davmgs/meditrack/internal/schedule"
	"github.com/davmgs/meditrack/internal/store"
	"go.uber.org/zap"
)

// Dispatcher runs the periodic dispatch cycle. It is stateless between
// cycles; the dose log's insert-if-absent claim is the only guard
// against duplicate notification, so overlapping cycles are safe.
type Dispatcher struct {
	store     *store.Store
	notifiers []Notifier
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu        sync.RWMutex
	tolerance int
	offset    int
}

// NewDispatcher creates a dispatcher over the given channels.
func NewDispatcher(st *store.Store, notifiers []Notifier, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		store:     st,
		notifiers: notifiers,
		logger:    logger,
		metrics:   m,
		tolerance: cfg.Reminders.ToleranceMinutes,
		offset:    cfg.Reminders.TimezoneOffsetMinutes,
	}
}

// ApplyConfig picks up reloaded reminder window settings.
func (d *Dispatcher) ApplyConfig(cfg *config.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tolerance = cfg.Reminders.ToleranceMinutes
	d.offset = cfg.Reminders.TimezoneOffsetMinutes
}

func (d *Dispatcher) window() (tolerance, offset int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tolerance, d.offset
}

// RunCycle processes one dispatch pass at the given instant. It returns
// the number of occurrences that triggered a dispatch (newly claimed
// plus resurrected). A failed medication fetch fails the cycle; any
// other error aborts only the occurrence it hit.
func (d *Dispatcher) RunCycle(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	tolerance, offset := d.window()

	meds, err := d.store.ListAllMedications()
	if err != nil {
		d.metrics.RecordCycle(time.Since(start), true)
		return 0, apperrors.Wrap(err, "GEN_003", "failed to list medications")
	}

	users := make(map[string]*store.User)
	processed := 0

	for i := range meds {
		med := &meds[i]
		if !med.Active(now) {
			continue
		}

		user, ok := users[med.UserID]
		if !ok {
			user, err = d.store.GetUser(med.UserID)
			if err != nil {
				d.logger.Warn("Failed to load medication owner",
					zap.String("medication_id", med.ID),
					zap.String("user_id", med.UserID),
					zap.Error(err),
				)
				continue
			}
			users[med.UserID] = user
		}
		if user == nil || !user.HasChannel() {
			continue
		}

		for _, clock := range med.Times {
			due, err := schedule.IsDue(clock, now, offset, tolerance)
			if err != nil {
				d.logger.Warn("Skipping malformed schedule time",
					zap.String("medication_id", med.ID),
					zap.String("clock", clock),
					zap.Error(err),
				)
				continue
			}
			if !due {
				continue
			}

			if d.handleDueOccurrence(ctx, med, user, clock, now, offset) {
				processed++
			}
		}
	}

	d.metrics.RecordCycle(time.Since(start), false)
	d.logger.Info("Dispatch cycle complete",
		zap.Time("now", now),
		zap.Int("processed", processed),
	)
	return processed, nil
}

// handleDueOccurrence claims or resurrects one due occurrence and fans
// out notifications. Reports whether a dispatch happened.
func (d *Dispatcher) handleDueOccurrence(ctx context.Context, med *store.Medication, user *store.User, clock string, now time.Time, offset int) bool {
	occ, err := schedule.Resolve(clock, now, offset)
	if err != nil {
		return false
	}
	id := occ.ID(med.ID)

	existing, err := d.store.GetDoseLog(id)
	if err != nil {
		d.logger.Warn("Dose lookup failed, skipping occurrence",
			zap.String("log_id", id),
			zap.Error(err),
		)
		return false
	}

	if existing == nil {
		created, err := d.store.ClaimDose(&store.DoseLog{
			ID:            id,
			UserID:        user.ID,
			MedicationID:  med.ID,
			ScheduledTime: occ.ScheduledAt,
			Status:        store.StatusPending,
		})
		if err != nil {
			d.logger.Warn("Dose claim failed, skipping occurrence",
				zap.String("log_id", id),
				zap.Error(err),
			)
			return false
		}
		if !created {
			// Lost the race to an overlapping cycle; that cycle notifies.
			return false
		}

		d.metrics.RecordClaim()
		d.fanOut(ctx, user, Reminder{
			LogID:          id,
			MedicationID:   med.ID,
			MedicationName: med.Name,
			Dosage:         med.Dosage,
			ScheduledAt:    occ.ScheduledAt,
		})
		return true
	}

	if existing.Status == store.StatusDelayed && existing.DelayedUntil != nil && !now.Before(*existing.DelayedUntil) {
		// Resurrect: back to pending, DelayedUntil kept for audit. The
		// conditional write makes overlapping cycles resurrect once.
		updated, err := d.store.UpdateDoseLogStatus(id, store.StatusDelayed, map[string]interface{}{
			"status": store.StatusPending,
		})
		if err != nil {
			d.logger.Warn("Dose resurrection failed",
				zap.String("log_id", id),
				zap.Error(err),
			)
			return false
		}
		if !updated {
			return false
		}

		d.metrics.RecordResurrection()
		d.fanOut(ctx, user, Reminder{
			LogID:          id,
			MedicationID:   med.ID,
			MedicationName: med.Name,
			Dosage:         med.Dosage,
			// Re-sent reminders show the original scheduled time, not now.
			ScheduledAt: existing.ScheduledTime,
		})
		return true
	}

	return false
}

// fanOut sends the reminder on every enabled channel. Failures are
// independent and logged, never retried within the cycle; a gone/expired
// push endpoint clears the stored subscription so later cycles stop
// hitting it.
func (d *Dispatcher) fanOut(ctx context.Context, user *store.User, rem Reminder) {
	for _, n := range d.notifiers {
		if !n.Enabled(user) {
			continue
		}

		err := n.Send(ctx, user, rem)
		d.metrics.RecordSend(n.Name(), err == nil)
		if err == nil {
			continue
		}

		if errors.Is(err, apperrors.ErrSubscriptionGone) {
			if clearErr := d.store.ClearPushSubscription(user.ID); clearErr != nil {
				d.logger.Error("Failed to clear dead push subscription",
					zap.String("user_id", user.ID),
					zap.Error(clearErr),
				)
			} else {
				d.metrics.RecordSubscriptionCleared()
				d.logger.Info("Cleared expired push subscription",
					zap.String("user_id", user.ID),
				)
			}
			continue
		}

		d.logger.Warn("Reminder delivery failed",
			zap.String("channel", n.Name()),
			zap.String("log_id", rem.LogID),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}
}

// BackfillMissed writes missed records for yesterday's scheduled times
// that never got any record at all. It runs from its own cron entry,
// never from the live dispatch cycle, and uses the same claim primitive
// so it can never clobber a record the dispatcher created.
func (d *Dispatcher) BackfillMissed(ctx context.Context, now time.Time) (int, error) {
	_, offset := d.window()

	meds, err := d.store.ListAllMedications()
	if err != nil {
		return 0, apperrors.Wrap(err, "GEN_003", "failed to list medications")
	}

	ref := time.FixedZone("reference", offset*60)
	yesterday := now.In(ref).AddDate(0, 0, -1)
	date := yesterday.Format("2006-01-02")

	backfilled := 0
	for i := range meds {
		med := &meds[i]
		if !med.Active(yesterday) {
			continue
		}

		for _, clock := range med.Times {
			mins, err := schedule.ParseClock(clock)
			if err != nil {
				continue
			}

			scheduledAt := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), mins/60, mins%60, 0, 0, ref)
			if !scheduledAt.Before(now) {
				continue
			}

			created, err := d.store.ClaimDose(&store.DoseLog{
				ID:            schedule.OccurrenceID(med.ID, date, clock),
				UserID:        med.UserID,
				MedicationID:  med.ID,
				ScheduledTime: scheduledAt,
				Status:        store.StatusMissed,
			})
			if err != nil {
				d.logger.Warn("Missed backfill claim failed",
					zap.String("medication_id", med.ID),
					zap.String("clock", clock),
					zap.Error(err),
				)
				continue
			}
			if created {
				backfilled++
			}
		}
	}

	if backfilled > 0 {
		d.metrics.RecordMissedBackfill(backfilled)
		d.logger.Info("Backfilled missed doses",
			zap.String("date", date),
			zap.Int("count", backfilled),
		)
	}
	return backfilled, nil
}
