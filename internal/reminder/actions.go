package reminder

import (
	"context"
	"time"

	"github.com/davmgs/meditrack/internal/config"
	apperrors "github.com/davmgs/meditrack/internal/errors"
	"github.com/davmgs/meditrack/internal/metrics"
	"github.com/davmgs/meditrack/internal/store"
	"go.uber.org/zap"
)

// Actions applies user responses (take/skip/snooze) to dose records and
// keeps inventory in step with taken-transitions.
type Actions struct {
	store         *store.Store
	logger        *zap.Logger
	metrics       *metrics.Metrics
	defaultSnooze int
}

// NewActions creates the action handler.
func NewActions(st *store.Store, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Actions {
	snooze := cfg.Reminders.DefaultSnoozeMinutes
	if snooze <= 0 {
		snooze = 5
	}
	return &Actions{
		store:         st,
		logger:        logger,
		metrics:       m,
		defaultSnooze: snooze,
	}
}

// Apply transitions the dose record for one user action. The write is
// all-or-nothing: on store failure no status or inventory change
// happens and the error propagates to the channel that delivered the
// action. Inventory follows the prev-to-new status comparison, so
// replaying the same action is supply-neutral.
func (a *Actions) Apply(ctx context.Context, logID string, action Action) (*store.DoseLog, error) {
	log, err := a.store.GetDoseLog(logID)
	if err != nil {
		a.metrics.RecordAction(string(action.Kind), false)
		return nil, apperrors.Wrap(err, "GEN_003", "dose lookup failed")
	}
	if log == nil {
		a.metrics.RecordAction(string(action.Kind), false)
		return nil, apperrors.ErrDoseNotFound
	}

	prev := log.Status
	now := time.Now()

	var next store.DoseStatus
	updates := map[string]interface{}{}

	switch action.Kind {
	case ActionTake:
		next = store.StatusTaken
		updates["status"] = next
		updates["actual_time"] = now
	case ActionSkip:
		next = store.StatusSkipped
		updates["status"] = next
		updates["actual_time"] = now
	case ActionSnooze:
		minutes := action.SnoozeMinutes
		if minutes <= 0 {
			minutes = a.defaultSnooze
		}
		next = store.StatusDelayed
		updates["status"] = next
		updates["delayed_until"] = now.Add(time.Duration(minutes) * time.Minute)
		updates["delay_count"] = log.DelayCount + 1
		if action.Reason != "" {
			updates["delay_reason"] = action.Reason
		}
	default:
		a.metrics.RecordAction(string(action.Kind), false)
		return nil, apperrors.ErrInvalidAction
	}

	// Conditional on the status we just read, so two racing actions
	// can't both count the same transition against inventory.
	applied, err := a.store.UpdateDoseLogStatus(logID, prev, updates)
	if err != nil {
		a.metrics.RecordAction(string(action.Kind), false)
		return nil, apperrors.Wrap(err, "GEN_003", "dose update failed")
	}
	if !applied {
		a.metrics.RecordAction(string(action.Kind), false)
		return nil, apperrors.ErrDoseConflict
	}

	if delta := store.SupplyDelta(prev, next); delta != 0 {
		if err := a.store.AdjustSupply(log.MedicationID, delta); err != nil {
			// The status write already landed; report but don't unwind.
			a.logger.Error("Supply adjustment failed after status change",
				zap.String("log_id", logID),
				zap.String("medication_id", log.MedicationID),
				zap.Int("delta", delta),
				zap.Error(err),
			)
		} else {
			a.metrics.RecordSupplyAdjustment()
		}
	}

	a.metrics.RecordAction(string(action.Kind), true)

	updated, err := a.store.GetDoseLog(logID)
	if err != nil || updated == nil {
		// Best effort re-read; fall back to the in-memory view.
		log.Status = next
		return log, nil
	}
	return updated, nil
}

// UpsertLog writes a caller-supplied dose record (manual logging from
// the UI) and applies the inventory consequences of whatever status
// transition the write caused. Callers must derive the record id with
// the same occurrence resolver the dispatcher uses, or duplicates slip
// past the claim.
func (a *Actions) UpsertLog(ctx context.Context, log *store.DoseLog) (*store.DoseLog, error) {
	prev, err := a.store.UpsertDoseLog(log)
	if err != nil {
		return nil, err
	}

	if delta := store.SupplyDelta(prev, log.Status); delta != 0 {
		if err := a.store.AdjustSupply(log.MedicationID, delta); err != nil {
			a.logger.Error("Supply adjustment failed after upsert",
				zap.String("log_id", log.ID),
				zap.Error(err),
			)
		} else {
			a.metrics.RecordSupplyAdjustment()
		}
	}

	return log, nil
}

// StatusText renders the short acknowledgment channels show after an
// action.
func StatusText(status store.DoseStatus) string {
	switch status {
	case store.StatusTaken:
		return "✅ Medication taken"
	case store.StatusSkipped:
		return "❌ Medication skipped"
	case store.StatusDelayed:
		return "💤 Reminder snoozed"
	case store.StatusMissed:
		return "Missed"
	default:
		return string(status)
	}
}
