// Package reminder implements the dose-reminder scheduling and
// deduplication engine: deciding which doses are due, claiming each
// occurrence exactly once, fanning reminders out to every enabled
// channel, and applying user actions back onto the dose record.
package reminder

import (
	"context"
	"time"

	"github.com/davmgs/meditrack/internal/store"
)

// Reminder carries everything a channel needs to render one dose
// reminder.
type Reminder struct {
	LogID          string
	MedicationID   string
	MedicationName string
	Dosage         string
	ScheduledAt    time.Time
}

// Notifier delivers a dose reminder over one channel. Implementations
// report ErrSubscriptionGone (wrapped or direct) when their delivery
// address is permanently dead so the dispatcher can clear it.
type Notifier interface {
	// Name identifies the channel in logs and metrics.
	Name() string
	// Enabled reports whether this user can receive on the channel.
	Enabled(user *store.User) bool
	// Send delivers the reminder.
	Send(ctx context.Context, user *store.User, rem Reminder) error
}

// ActionKind tags a user response to a reminder.
type ActionKind string

const (
	ActionTake   ActionKind = "take"
	ActionSkip   ActionKind = "skip"
	ActionSnooze ActionKind = "snooze"
)

// Action is a typed user response. Channel boundaries decode their wire
// encodings (e.g. "TAKE:<logID>" callback data) into this before calling
// the handler.
type Action struct {
	Kind          ActionKind
	SnoozeMinutes int
	Reason        string
}
